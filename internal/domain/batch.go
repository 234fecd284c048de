package domain

import "time"

// ItemStatus is the per-item state of a batch.
type ItemStatus string

const (
	ItemPending ItemStatus = "pending"
	ItemDone    ItemStatus = "done"
	ItemFailed  ItemStatus = "failed"
)

// BatchJob is a queued sequence of prompts against one model.
// The prompt list is frozen at creation; only item status and the
// checkpoint advance.
type BatchJob struct {
	ID               string      `json:"id"`
	ModelID          string      `json:"model_id"`
	SessionID        string      `json:"session_id"`
	CreatedAt        time.Time   `json:"created_at"`
	State            RunState    `json:"status"`
	CheckpointOffset int         `json:"checkpoint_offset"`
	StopOnError      bool        `json:"stop_on_error"`
	Source           string      `json:"source,omitempty"`
	Template         string      `json:"template,omitempty"`
	Items            []BatchItem `json:"items,omitempty"`
}

// BatchItem is one prompt in a batch.
type BatchItem struct {
	ID              string     `json:"id"`
	BatchID         string     `json:"batch_id"`
	Seq             int        `json:"seq"`
	Prompt          string     `json:"prompt"`
	Status          ItemStatus `json:"status"`
	ResultMessageID string     `json:"result_message_id,omitempty"`
	Error           string     `json:"error,omitempty"`
}

// Counts tallies item statuses.
func (b BatchJob) Counts() (pending, done, failed int) {
	for _, it := range b.Items {
		switch it.Status {
		case ItemDone:
			done++
		case ItemFailed:
			failed++
		default:
			pending++
		}
	}
	return pending, done, failed
}
