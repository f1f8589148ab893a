package model

import "time"

// FileOp 文件系统通知类型
type FileOp uint8

const (
	OpCreate FileOp = iota + 1
	OpChange
	OpDelete
	OpRename
	// OpMovedFrom / OpMovedTo 是后端原始的半个重命名，由批处理器配对成 OpRename
	OpMovedFrom
	OpMovedTo
)

func (o FileOp) String() string {
	switch o {
	case OpCreate:
		return "CREATE"
	case OpChange:
		return "CHANGE"
	case OpDelete:
		return "DELETE"
	case OpRename:
		return "RENAME"
	case OpMovedFrom:
		return "MOVED_FROM"
	case OpMovedTo:
		return "MOVED_TO"
	}
	return "OTHER"
}

// FileNotification 文件系统原始通知
type FileNotification struct {
	Op      FileOp
	Path    string
	OldPath string // 仅 OpRename
	IsDir   bool
	PID     int32
	Process string
	Time    time.Time
}
