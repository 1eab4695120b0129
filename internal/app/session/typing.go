package session

import "time"

// InputChanged feeds raw input activity into the typing debouncer. A first
// non-empty change emits typing:true and arms the inactivity timer; each
// further keystroke re-arms it; the timer expiring or the input emptying
// emits typing:false. With no open channel every call degrades to a no-op.
func (s *Session) InputChanged(text string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.channel == nil || !s.connected || s.closed {
		return
	}
	if text == "" {
		s.stopTypingLocked()
		return
	}
	if !s.typing {
		s.typing = true
		s.sendTypingLocked(true)
	}
	s.stopTypingTimerLocked()
	s.typingTimer = time.AfterFunc(s.typingIdle, s.typingExpired)
}

// typingExpired fires on the debounce timer.
func (s *Session) typingExpired() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.typingTimer = nil
	if !s.typing {
		return
	}
	s.typing = false
	s.sendTypingLocked(false)
}

// stopTypingLocked emits typing:false immediately (input cleared or sent).
func (s *Session) stopTypingLocked() {
	s.stopTypingTimerLocked()
	if !s.typing {
		return
	}
	s.typing = false
	s.sendTypingLocked(false)
}

func (s *Session) stopTypingTimerLocked() {
	if s.typingTimer != nil {
		s.typingTimer.Stop()
		s.typingTimer = nil
	}
}

func (s *Session) sendTypingLocked(isTyping bool) {
	ch := s.channel
	if ch == nil {
		return
	}
	if err := ch.SendTyping(isTyping); err != nil {
		// Intents are advisory; a failed one is logged and forgotten.
		s.logger.Debug("typing intent dropped", "is_typing", isTyping, "error", err)
	}
}
