package datamodels

import (
	"fmt"

	"github.com/andrej220/provchain/pkg/executor"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
)

var validate = validator.New()

// Request asks for one provisioning run of the configured plan on a machine.
type Request struct {
	Machine  string    `json:"machine" validate:"required,max=253"`
	BuildDir string    `json:"buildDir,omitempty" validate:"omitempty,startswith=/,max=4096"`
	RunID    uuid.UUID `json:"runId"`
}

// Validate checks the request fields. BuildDir ends up in a privileged
// remote command line, so only safe path characters are accepted.
func (r Request) Validate() error {
	if err := validate.Struct(r); err != nil {
		return err
	}
	if r.BuildDir != "" {
		if err := executor.CheckPath(r.BuildDir); err != nil {
			return fmt.Errorf("buildDir: %w", err)
		}
	}
	return nil
}

type Response struct {
	RunID   uuid.UUID `json:"runId"`
	Machine string    `json:"machine"`
	Status  string    `json:"status"`
}

const StatusQueued = "queued"
