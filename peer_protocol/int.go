package peer_protocol

type Integer uint32

// It's perfectly fine to cast these to an int.
func (i Integer) Int() int {
	return int(i)
}

func (i Integer) Int64() int64 {
	return int64(i)
}

func (i Integer) Uint32() uint32 {
	return uint32(i)
}
