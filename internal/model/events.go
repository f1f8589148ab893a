package model

import (
	"maps"
	"time"
)

// Kind 活动事件类型 (封闭枚举)
type Kind uint8

const (
	// KindNone 仅存在于扫描器/关联器内部的哨兵值，永远不会进入摄取队列
	KindNone Kind = iota
	FileCreated
	FileDeleted
	FileChanged
	FileRenamed
	FileCopied
	FileOpened
	ClipboardText
	ClipboardFiles
	WindowSwitched
	KeyboardText
	UrlVisited
	VolumeInserted
	VolumeRemoved
	HeartBeat
	PublicIpDiscovered
	ExplorerNavigated
)

var kindNames = [...]string{
	KindNone:           "None",
	FileCreated:        "FileCreated",
	FileDeleted:        "FileDeleted",
	FileChanged:        "FileChanged",
	FileRenamed:        "FileRenamed",
	FileCopied:         "FileCopied",
	FileOpened:         "FileOpened",
	ClipboardText:      "ClipboardText",
	ClipboardFiles:     "ClipboardFiles",
	WindowSwitched:     "WindowSwitched",
	KeyboardText:       "KeyboardText",
	UrlVisited:         "UrlVisited",
	VolumeInserted:     "VolumeInserted",
	VolumeRemoved:      "VolumeRemoved",
	HeartBeat:          "HeartBeat",
	PublicIpDiscovered: "PublicIpDiscovered",
	ExplorerNavigated:  "ExplorerNavigated",
}

func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return "Unknown"
}

// Valid 是否为可投递的事件类型
func (k Kind) Valid() bool {
	return k > KindNone && int(k) < len(kindNames)
}

// ParseKind 按名称解析事件类型 (区分大小写)
func ParseKind(name string) (Kind, bool) {
	for i, n := range kindNames {
		if n == name && Kind(i) != KindNone {
			return Kind(i), true
		}
	}
	return KindNone, false
}

// FileDescriptor 剪贴板中的文件条目
type FileDescriptor struct {
	Path        string `cbor:"1,keyasint"`
	IsDirectory bool   `cbor:"2,keyasint,omitempty"`
}

// ActivityEvent 规范化后的活动事件，按值传递，构造后不再修改
type ActivityEvent struct {
	Timestamp time.Time         `cbor:"1,keyasint"`
	Kind      Kind              `cbor:"2,keyasint"`
	Primary   string            `cbor:"3,keyasint,omitempty"`
	Secondary string            `cbor:"4,keyasint,omitempty"`
	Tertiary  string            `cbor:"5,keyasint,omitempty"`
	Files     []FileDescriptor  `cbor:"6,keyasint,omitempty"`
	Attrs     map[string]string `cbor:"7,keyasint,omitempty"`
}

// NewEvent 构造事件，时间戳取本地墙钟
func NewEvent(kind Kind, fields ...string) ActivityEvent {
	ev := ActivityEvent{Timestamp: time.Now(), Kind: kind}
	if len(fields) > 0 {
		ev.Primary = fields[0]
	}
	if len(fields) > 1 {
		ev.Secondary = fields[1]
	}
	if len(fields) > 2 {
		ev.Tertiary = fields[2]
	}
	return ev
}

// WithFiles 返回附带文件列表的副本
func (e ActivityEvent) WithFiles(files []FileDescriptor) ActivityEvent {
	e.Files = append([]FileDescriptor(nil), files...)
	return e
}

// WithAttr 返回附带属性的副本，原事件的 map 不会被修改
func (e ActivityEvent) WithAttr(key, value string) ActivityEvent {
	attrs := make(map[string]string, len(e.Attrs)+1)
	maps.Copy(attrs, e.Attrs)
	attrs[key] = value
	e.Attrs = attrs
	return e
}

// WithTime 返回替换时间戳的副本
func (e ActivityEvent) WithTime(t time.Time) ActivityEvent {
	e.Timestamp = t
	return e
}

// Fields 依次返回三个数据字段
func (e ActivityEvent) Fields() []string {
	return []string{e.Primary, e.Secondary, e.Tertiary}
}
