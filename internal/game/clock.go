package game

import "time"

type clockPair struct {
	white, black time.Duration
}

func (c clockPair) commit(s *Session) {
	s.setClock(White, c.white)
	s.setClock(Black, c.black)
}

// nextClocks computes both clocks after mover's move. Client policy adopts the reported values;
// server policy and bot moves charge the mover for the time since the previous move. flagged
// reports an exhausted clock under server policy.
func (m *Machine) nextClocks(s *Session, mover Color, req MoveRequest, now time.Time) (clockPair, bool) {
	next := clockPair{white: s.WhiteClock, black: s.BlackClock}
	if m.opts.ClockPolicy == ClockServer || req.Bot {
		left := m.remaining(s, mover, now)
		if left < 0 {
			left = 0
		}
		if mover == White {
			next.white = left
		} else {
			next.black = left
		}
		return next, m.opts.ClockPolicy == ClockServer && left == 0
	}
	if req.WhiteClock != nil {
		next.white = *req.WhiteClock
	}
	if req.BlackClock != nil {
		next.black = *req.BlackClock
	}
	return next, false
}

// remaining is c's clock minus the time it has been running.
func (m *Machine) remaining(s *Session, c Color, now time.Time) time.Duration {
	left := s.Clock(c)
	if s.Position.Turn() != c {
		return left
	}
	from := s.LastMoveAt
	if from.IsZero() || from.Before(s.StartAt) {
		from = s.StartAt
	}
	if from.IsZero() || now.Before(from) {
		return left
	}
	return left - now.Sub(from)
}
