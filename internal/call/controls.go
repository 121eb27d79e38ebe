package call

func (e *Engine) toggleAudio() {
	s := e.current()
	if s == nil || len(s.local.Audio()) == 0 {
		e.log.Debug("toggle audio ignored, no local audio")
		return
	}
	s.audioMuted = !s.audioMuted
	for _, t := range s.local.Audio() {
		t.SetEnabled(!s.audioMuted)
	}
	e.publishState(s)
}

func (e *Engine) toggleVideo() {
	s := e.current()
	if s == nil {
		return
	}
	tracks := s.local.Video()
	if s.original != nil {
		tracks = append(tracks, s.original)
	}
	if len(tracks) == 0 {
		e.log.Debug("toggle video ignored, no local video")
		return
	}
	s.videoOff = !s.videoOff
	for _, t := range tracks {
		t.SetEnabled(!s.videoOff)
	}
	e.publishState(s)
}

func (e *Engine) toggleScreenShare() {
	s := e.current()
	if s == nil || s.pc == nil || len(s.local) == 0 {
		e.emit(Notice{Err: &Error{Op: "screen share", Err: ErrScreenShareUnavailable, Details: "no active call"}})
		return
	}
	if s.screenPending {
		return
	}
	if s.screen != nil {
		e.stopScreenShare(s)
		return
	}

	s.screenPending = true
	go func() {
		track, err := e.cfg.Media.AcquireDisplay(s.ctx)
		e.post(displayResult{s: s, track: track, err: err})
	}()
}

func (e *Engine) onDisplay(r displayResult) {
	if e.stale(r.s) {
		if r.track != nil {
			r.track.Stop()
		}
		return
	}
	s := r.s
	s.screenPending = false
	if r.err != nil || r.track == nil {
		e.emit(Notice{Err: WrapError("screen share", ErrScreenShareUnavailable, r.err)})
		return
	}
	screen := r.track

	if sender, camera := s.videoSender(); sender != nil {
		if err := sender.ReplaceTrack(screen.Local()); err != nil {
			screen.Stop()
			e.emit(Notice{Err: WrapError("screen share", ErrScreenShareUnavailable, err)})
			return
		}
		delete(s.senders, camera)
		s.senders[screen] = sender
		s.original = camera
		s.local = s.local.Replace(camera, screen)
	} else {
		sender, err := s.pc.AddTrack(screen.Local())
		if err != nil {
			screen.Stop()
			e.emit(Notice{Err: WrapError("screen share", ErrScreenShareUnavailable, err)})
			return
		}
		s.senders[screen] = sender
		s.local = s.local.Replace(nil, screen)
	}

	s.screen = screen
	screen.SetEnabled(!s.videoOff)
	screen.OnEnded(func() {
		e.post(screenEnded{s: s, track: screen})
	})
	e.log.Info("screen share started", "session", s.id)
	e.publishState(s)
}

func (e *Engine) stopScreenShare(s *Session) {
	screen := s.screen
	sender := s.senders[screen]

	if s.original != nil {
		if err := sender.ReplaceTrack(s.original.Local()); err != nil {
			e.log.Warn("restore camera failed", "session", s.id, "error", err)
		}
		s.senders[s.original] = sender
		s.local = s.local.Replace(screen, s.original)
	} else {
		if err := s.pc.RemoveTrack(sender); err != nil {
			e.log.Warn("remove screen sender failed", "session", s.id, "error", err)
		}
		s.local = s.local.Remove(screen)
	}
	delete(s.senders, screen)

	screen.Stop()
	s.screen, s.original = nil, nil
	e.log.Info("screen share stopped", "session", s.id)
	e.publishState(s)
}
