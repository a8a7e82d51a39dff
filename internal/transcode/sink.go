package transcode

// sink forwards muxer output to the consumer before returning and keeps no
// bytes. Output is dropped once live reports false.
type sink struct {
	onData func([]byte)
	count  func(n int)
	live   func() bool
}

func (s *sink) Write(p []byte) (int, error) {
	if len(p) == 0 || !s.live() {
		return len(p), nil
	}
	s.onData(p)
	s.count(len(p))
	return len(p), nil
}
