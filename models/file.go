package models

import "time"

// File represents metadata for one successfully received file.
//
// A re-transfer of the same filename by the same client supersedes the
// previous record rather than duplicating it.
type File struct {
	ClientID   ClientID
	Filename   string
	Size       uint32
	Checksum   uint32
	StoredPath string
	ReceivedAt time.Time
}
