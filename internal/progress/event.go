// Package progress defines the lifecycle events emitted while harvesting.
package progress

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Stage denotes the milestone represented by an Event.
type Stage string

// Supported progress stages. Document stages mirror the per-document state machine.
const (
	StageRunStart           Stage = "RUN_START"
	StageRunDone            Stage = "RUN_DONE"
	StageYearListed         Stage = "YEAR_LISTED"
	StageDiscovered         Stage = "DISCOVERED"
	StageMetadataFetched    Stage = "METADATA_FETCHED"
	StageArtifactDownloaded Stage = "ARTIFACT_DOWNLOADED"
	StageDownloadFailed     Stage = "DOWNLOAD_FAILED"
	StageExcerptExtracted   Stage = "EXCERPT_EXTRACTED"
	StagePersisted          Stage = "PERSISTED"
	StageResumed            Stage = "RESUMED"
	StageAbandoned          Stage = "ABANDONED"
	StageClassified         Stage = "CLASSIFIED"
	StageClassifyFailed     Stage = "CLASSIFY_FAILED"
)

// Event captures a single step of harvest progress.
type Event struct {
	// RunID identifies the run using the 16-byte UUID form.
	RunID [16]byte
	// TS is the UTC timestamp recorded by the emitter.
	TS time.Time
	// Stage denotes which milestone occurred.
	Stage Stage
	// Year scopes document events to a listing year.
	Year string
	// URL is the document or artifact URL.
	URL string
	// Title is the sanitized document title once known.
	Title string
	// Bytes carries artifact size for download events, or a count for YEAR_LISTED.
	Bytes int64
	// Dur captures latency for fetches and run completion.
	Dur time.Duration
	// Note lets emitters attach low-volume context such as error text.
	Note string
}

// Validate performs coarse validation on Event payloads.
func (e Event) Validate() error {
	if e.RunID == [16]byte{} {
		return errors.New("run id is required")
	}
	if e.TS.IsZero() {
		return errors.New("timestamp is required")
	}
	switch e.Stage {
	case StageRunStart, StageRunDone:
	case StageYearListed:
		if e.Year == "" {
			return errors.New("year listed requires year")
		}
	case StageDiscovered, StageMetadataFetched, StageArtifactDownloaded, StageDownloadFailed,
		StageExcerptExtracted, StagePersisted, StageResumed, StageAbandoned,
		StageClassified, StageClassifyFailed:
		if e.URL == "" && e.Title == "" {
			return fmt.Errorf("%s requires url or title", e.Stage)
		}
	default:
		return fmt.Errorf("unknown stage %q", e.Stage)
	}
	if e.Dur < 0 {
		return errors.New("duration must be >= 0")
	}
	if e.Bytes < 0 {
		return errors.New("bytes must be >= 0")
	}
	return nil
}

// RunUUID converts the binary run ID to uuid.UUID.
func (e Event) RunUUID() uuid.UUID {
	return uuid.UUID(e.RunID)
}

// UUIDToBytes encodes a uuid.UUID into the Event form.
func UUIDToBytes(id uuid.UUID) [16]byte {
	var dest [16]byte
	copy(dest[:], id[:])
	return dest
}
