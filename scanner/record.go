package scanner

import (
	"time"
)

// Record is a flat, serializable snapshot of a FileDescriptor.
type Record struct {
	Path           string    `json:"path"`
	Directory      string    `json:"directory"`
	Name           string    `json:"name"`
	Size           int64     `json:"size"`
	CreationTime   time.Time `json:"creation_time,omitempty"`
	ModTime        time.Time `json:"mod_time"`
	AccessTime     time.Time `json:"access_time,omitempty"`
	ReadOnly       bool      `json:"read_only,omitempty"`
	Hidden         bool      `json:"hidden,omitempty"`
	FileID         string    `json:"file_id,omitempty"`
	MimeType       string    `json:"mime_type,omitempty"`
	Fingerprint    string    `json:"fingerprint,omitempty"`
	Location       string    `json:"location"`
	Priority       string    `json:"priority"`
	Protected      bool      `json:"protected,omitempty"`
	Action         Action    `json:"action"`
	Reason         string    `json:"reason,omitempty"`
	TargetPath     string    `json:"target_path,omitempty"`
	ActionExecuted bool      `json:"action_executed,omitempty"`
	ActionError    string    `json:"action_error,omitempty"`
}

func (d *FileDescriptor) Record() Record {
	fp, _ := d.Fingerprint()
	d.mu.RLock()
	defer d.mu.RUnlock()
	return Record{
		Path:           d.path,
		Directory:      d.dir,
		Name:           d.name,
		Size:           d.size,
		CreationTime:   d.times.Created,
		ModTime:        d.times.Modified,
		AccessTime:     d.times.Accessed,
		ReadOnly:       d.readOnly,
		Hidden:         d.hidden,
		FileID:         d.fileID,
		MimeType:       d.mimeType,
		Fingerprint:    fp.String(),
		Location:       d.location.String(),
		Priority:       d.priority.String(),
		Protected:      d.protected,
		Action:         d.action,
		Reason:         d.reason,
		TargetPath:     d.targetPath,
		ActionExecuted: d.executed,
		ActionError:    d.actionErr,
	}
}
