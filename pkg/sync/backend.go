package sync

import (
	"context"
	"fmt"

	"github.com/manjuta/datasync/internal/logger"
)

// Backend moves object bytes between the local cache and remote storage.
// Implementations: the object-service backend in this package (presigned
// transfers through the coordination service) and the direct S3 backend in
// pkg/sync/s3backend.
type Backend interface {
	// ConfirmConfiguration verifies credentials and reachability before a
	// sync pass. Returns an optional informational message.
	ConfirmConfiguration(ctx context.Context) (string, error)

	// PushObjects uploads the given objects. Per-object failures land in the
	// result; the error return covers only whole-pass failures (bad
	// configuration, cancelled context).
	PushObjects(ctx context.Context, objects []PushObject, progress ProgressFunc) (TransferResult, error)

	// PullObjects downloads the given objects, same contract as PushObjects.
	PullObjects(ctx context.Context, objects []PullObject, progress ProgressFunc) (TransferResult, error)

	// DeleteContents removes every remote object belonging to the dataset.
	// All-or-nothing: any failure is a hard failure.
	DeleteContents(ctx context.Context) error
}

// ServiceBackend is the presigned-transfer Backend: every byte moves through
// URLs minted by the object service, so the engine never holds long-lived
// store credentials.
type ServiceBackend struct {
	client *ServiceClient
	orch   *Orchestrator
}

// NewServiceBackend wires a service client and orchestrator into a Backend.
//
// Parameters:
//   - config: service configuration mapping (see ConfigServiceRoot etc.)
//   - opts: orchestrator tuning (workers, multipart chunk size, tmp dir)
//
// Returns ErrMissingAuth (wrapped) when required configuration is absent.
func NewServiceBackend(config map[string]string, opts OrchestratorOptions) (*ServiceBackend, error) {
	client, err := NewServiceClient(config)
	if err != nil {
		return nil, fmt.Errorf("failed to configure object service backend: %w", err)
	}

	return &ServiceBackend{
		client: client,
		orch:   NewOrchestrator(client, opts),
	}, nil
}

// ConfirmConfiguration checks the service root accepts the session.
func (b *ServiceBackend) ConfirmConfiguration(ctx context.Context) (string, error) {
	message, err := b.client.Check(ctx)
	if err != nil {
		return "", fmt.Errorf("object service configuration check failed: %w", err)
	}
	return message, nil
}

// PushObjects uploads objects through presigned URLs.
func (b *ServiceBackend) PushObjects(ctx context.Context, objects []PushObject, progress ProgressFunc) (TransferResult, error) {
	if err := ctx.Err(); err != nil {
		return TransferResult{}, err
	}

	logger.Info("Pushing %d object(s)", len(objects))
	result := b.orch.Push(ctx, objects, progress)
	logger.Info("Push finished: %d succeeded, %d failed", len(result.Succeeded), len(result.Failed))
	return result, nil
}

// PullObjects downloads objects through presigned URLs.
func (b *ServiceBackend) PullObjects(ctx context.Context, objects []PullObject, progress ProgressFunc) (TransferResult, error) {
	if err := ctx.Err(); err != nil {
		return TransferResult{}, err
	}

	logger.Info("Pulling %d object(s)", len(objects))
	result := b.orch.Pull(ctx, objects, progress)
	logger.Info("Pull finished: %d succeeded, %d failed", len(result.Succeeded), len(result.Failed))
	return result, nil
}

// DeleteContents removes all remote objects for the dataset.
func (b *ServiceBackend) DeleteContents(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	if err := b.client.DeleteContents(ctx); err != nil {
		return fmt.Errorf("failed to delete remote dataset contents: %w", err)
	}
	logger.Info("Deleted all remote objects for dataset")
	return nil
}
