package model

import "time"

// Metadata is the conflict-detection record associated with a Transaction.
// It is embedded in Transaction but also travels alone when comparing a
// local and a remote view of the same entity.
type Metadata struct {
	Version          int        `json:"version"`
	ServerTimestamp  *time.Time `json:"serverTimestamp,omitempty"`
	DeviceTimestamp  time.Time  `json:"deviceTimestamp"`
	ContentHash      string     `json:"contentHash"`
	ParentIDs        []string   `json:"parentIds,omitempty"`
	LastModified     time.Time  `json:"lastModified"`
	CreatedAt        time.Time  `json:"createdAt"`
	UserID           string     `json:"userId"`
	DeviceID         string     `json:"deviceId"`
}

// EffectiveTimestamp returns ServerTimestamp if set, otherwise LastModified
// — the tiebreak value used by last-write-wins.
func (m Metadata) EffectiveTimestamp() time.Time {
	if m.ServerTimestamp != nil {
		return *m.ServerTimestamp
	}
	return m.LastModified
}
