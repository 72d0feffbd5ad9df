package store

import "time"

func (s *Store) SetClock(nowFn func() time.Time) {
	s.nowFn = nowFn
}
