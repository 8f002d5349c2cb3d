// -----------------------------------------------------------------------
// Job storage contracts
// -----------------------------------------------------------------------

package interfaces

import (
	"context"
	"errors"
	"time"

	"github.com/ternarybob/mapgen/internal/models"
)

// ErrJobNotFound is returned when a request id is not in the job store
var ErrJobNotFound = errors.New("job not found")

// JobStore is the durable request id -> job record mapping shared by the
// serving process and worker processes. Implementations must make Set an
// atomic insert-or-replace and must not corrupt their backing files when
// several processes write different keys at once.
type JobStore interface {
	// Get returns ErrJobNotFound if the id is absent
	Get(ctx context.Context, id string) (*models.JobRecord, error)

	// Set inserts or replaces the record stored under id
	Set(ctx context.Context, id string, record *models.JobRecord) error

	// Delete removes the record; deleting a missing id is not an error
	Delete(ctx context.Context, id string) error

	// Claim removes the record and returns it in one atomic step. When several
	// callers race, exactly one gets the record; the rest get ErrJobNotFound.
	Claim(ctx context.Context, id string) (*models.JobRecord, error)

	// ListUpdatedBefore returns records whose last update is older than cutoff
	ListUpdatedBefore(ctx context.Context, cutoff time.Time) ([]*models.JobRecord, error)
}

// StorageManager owns the job store connection
type StorageManager interface {
	JobStore() JobStore

	// Compact reclaims space left by deleted records
	Compact(ctx context.Context) error

	Close() error
}
