//go:build linux

package model

import "golang.org/x/sys/unix"

const (
	FanotifyEventMetadataSize = 24
	// FanotifyInfoHeaderSize + FSID + file_handle 头
	FanotifyFidFixedSize = 4 + 8 + 8
)

// FanotifyEventInfoFid 对应 C 结构体 fanotify_event_info_fid 的头部
// 后面紧跟 file_handle 和以 NUL 结尾的文件名
type FanotifyEventInfoFid struct {
	Hdr  FanotifyEventInfoHeader
	Fsid unix.Fsid
}

// FanotifyEventInfoHeader 对应 C 结构体 fanotify_event_info_header
type FanotifyEventInfoHeader struct {
	InfoType uint8
	Pad      uint8
	// 整个 Info 块的总长度 (包括 Header 自己)
	Len uint16
}

// FileHandle struct file_handle 的定长部分，f_handle 紧随其后
type FileHandle struct {
	HandleBytes uint32
	HandleType  int32
}
