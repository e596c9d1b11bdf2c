package codec

import "time"

// InputSerial tags user input so its echo can be recognized when it
// comes back in a render delta. The value is wall clock milliseconds
// since the unix epoch, which keeps it meaningful across a reconnect.
type InputSerial uint64

// InputSerialEmpty marks deltas that are not the echo of tagged
// input.
const InputSerialEmpty InputSerial = 0

// InputSerialNow returns the serial for input happening now.
func InputSerialNow() InputSerial {
	return InputSerial(time.Now().UnixMilli())
}

// Elapsed returns how long ago the serial's input happened.
func (s InputSerial) Elapsed() time.Duration {
	return time.Since(time.UnixMilli(int64(s)))
}
