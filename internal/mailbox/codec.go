package mailbox

import (
	"encoding/binary"
	"errors"
	"fmt"
	"reflect"

	"github.com/Hara602/hostSentry/internal/errs"
	"github.com/Hara602/hostSentry/internal/model"
	"github.com/fxamacker/cbor/v2"
	"github.com/google/uuid"
	"github.com/zeebo/blake3"
)

// 共享区布局: [0:4] 小端 uint32 载荷长度 n, [4:4+n] CBOR 信封, 其余为 0
const frameHeader = 4

var (
	encMode cbor.EncMode
	decMode cbor.DecMode

	// ErrTooLarge 事件序列化后放不进共享区
	ErrTooLarge = errors.New("mailbox: event does not fit in region")
)

func init() {
	var err error

	encOptions := cbor.CoreDetEncOptions()
	// 默认的 Unix 秒会丢掉亚秒精度
	encOptions.Time = cbor.TimeRFC3339Nano
	encMode, err = encOptions.EncMode()
	if err != nil {
		panic("mailbox: CBOR encoder initialization failed: " + err.Error())
	}

	decMode, err = cbor.DecOptions{
		DefaultMapType: reflect.TypeOf(map[string]any(nil)),
		// 共享区可能被任意本地进程写入
		MaxArrayElements: 65536,
		MaxMapPairs:      4096,
		MaxNestedLevels:  16,
	}.DecMode()
	if err != nil {
		panic("mailbox: CBOR decoder initialization failed: " + err.Error())
	}
}

// envelope 共享区里的一条消息
type envelope struct {
	ID    string              `cbor:"1,keyasint"`
	Event model.ActivityEvent `cbor:"2,keyasint"`
}

// encodeFrame 序列化事件，返回带长度前缀的帧
func encodeFrame(ev model.ActivityEvent, capacity int) ([]byte, error) {
	payload, err := encMode.Marshal(envelope{ID: uuid.NewString(), Event: ev})
	if err != nil {
		return nil, errs.New(errs.DataFormat, "encode", err)
	}
	if len(payload)+frameHeader > capacity {
		return nil, errs.New(errs.DataFormat, "encode",
			fmt.Errorf("%w: %d bytes, capacity %d", ErrTooLarge, len(payload)+frameHeader, capacity))
	}
	frame := make([]byte, frameHeader+len(payload))
	binary.LittleEndian.PutUint32(frame, uint32(len(payload)))
	copy(frame[frameHeader:], payload)
	return frame, nil
}

// decodeFrame 从共享区快照解析事件
func decodeFrame(buf []byte) (envelope, error) {
	var env envelope
	if len(buf) < frameHeader {
		return env, errs.New(errs.DataFormat, "decode", errors.New("region shorter than header"))
	}
	n := binary.LittleEndian.Uint32(buf)
	if n == 0 || uint64(n) > uint64(len(buf)-frameHeader) {
		return env, errs.New(errs.DataFormat, "decode", fmt.Errorf("bad payload length %d", n))
	}
	if err := decMode.Unmarshal(buf[frameHeader:frameHeader+int(n)], &env); err != nil {
		return env, errs.New(errs.DataFormat, "decode", err)
	}
	if !env.Event.Kind.Valid() {
		return env, errs.New(errs.DataFormat, "decode", fmt.Errorf("invalid event kind %d", env.Event.Kind))
	}
	return env, nil
}

// Fingerprint 共享区内容的指纹
type Fingerprint [32]byte

func fingerprint(buf []byte) Fingerprint {
	return Fingerprint(blake3.Sum256(buf))
}

func allZero(buf []byte) bool {
	for _, b := range buf {
		if b != 0 {
			return false
		}
	}
	return true
}
