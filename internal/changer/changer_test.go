package changer

import (
	"testing"
	"time"

	"github.com/danmuck/ibusctl/internal/protocol/frame"
	"github.com/danmuck/ibusctl/internal/protocol/session"
	"github.com/danmuck/ibusctl/internal/reactor"
	"github.com/danmuck/ibusctl/internal/testutil/testlog"
)

type queued struct {
	frame frame.Frame
	tag   session.Tag
}

type fakeQueue struct {
	frames    []queued
	cancelled []session.Tag
}

func (q *fakeQueue) Enqueue(data []byte, opts session.Options) (session.Handle, error) {
	q.frames = append(q.frames, queued{frame: frame.Frame(data).Clone(), tag: opts.Tag})
	return session.Handle{}, nil
}

func (q *fakeQueue) CancelByTag(tag session.Tag) int {
	q.cancelled = append(q.cancelled, tag)
	return 0
}

func (q *fakeQueue) last() frame.Frame {
	if len(q.frames) == 0 {
		return nil
	}
	return q.frames[len(q.frames)-1].frame
}

// fakeScheduler fires timers only when told to.
type fakeScheduler struct {
	next   reactor.TimerID
	timers map[reactor.TimerID]reactor.TimerFunc
}

func newFakeScheduler() *fakeScheduler {
	return &fakeScheduler{timers: make(map[reactor.TimerID]reactor.TimerFunc)}
}

func (s *fakeScheduler) AddTimer(_ time.Duration, fn reactor.TimerFunc) reactor.TimerID {
	s.next++
	s.timers[s.next] = fn
	return s.next
}

func (s *fakeScheduler) RemoveTimer(id reactor.TimerID) {
	delete(s.timers, id)
}

func (s *fakeScheduler) fire(id reactor.TimerID) {
	fn, ok := s.timers[id]
	if !ok {
		return
	}
	if !fn() {
		delete(s.timers, id)
	}
}

func newTestChanger(cfg Config) (*Changer, *fakeQueue, *fakeScheduler) {
	q := &fakeQueue{}
	s := newFakeScheduler()
	return New(cfg, q, s), q, s
}

func TestPollRepliesPresentAndAnnounces(t *testing.T) {
	testlog.Start(t)
	c, q, _ := newTestChanger(DefaultConfig())

	c.HandlePoll(RequestPoll)
	if !q.last().Equal(ReplyPresent) {
		t.Fatalf("reply=%s want=%s", q.last(), ReplyPresent)
	}
	if q.frames[0].tag != session.TagCDC {
		t.Fatalf("reply tag=%s", q.frames[0].tag)
	}
	if c.State() != Announced {
		t.Fatalf("state=%s want announced", c.State())
	}

	c.HandleStart(RequestStart)
	c.HandlePoll(RequestPoll)
	if c.State() != Playing {
		t.Fatalf("poll changed playing state to %s", c.State())
	}
}

func TestInfoReflectsPlayState(t *testing.T) {
	testlog.Start(t)
	c, q, _ := newTestChanger(DefaultConfig())

	c.HandleInfo(RequestInfo)
	if !q.last().Equal(ReplyNotPlaying) {
		t.Fatalf("idle info reply=%s", q.last())
	}
	c.HandleStart(RequestStart)
	if !q.last().Equal(ReplyPlaying) || c.State() != Playing {
		t.Fatalf("start reply=%s state=%s", q.last(), c.State())
	}
	c.HandleInfo(RequestInfo)
	if !q.last().Equal(ReplyPlaying) {
		t.Fatalf("playing info reply=%s", q.last())
	}
}

func TestStopAndPause(t *testing.T) {
	testlog.Start(t)
	c, q, _ := newTestChanger(DefaultConfig())
	c.HandleStart(RequestStart)

	c.HandlePause(RequestPause)
	if !q.last().Equal(ReplyPaused) || c.State() != Stopped {
		t.Fatalf("pause reply=%s state=%s", q.last(), c.State())
	}
	c.HandleInfo(RequestInfo)
	if !q.last().Equal(ReplyNotPlaying) {
		t.Fatalf("paused info reply=%s", q.last())
	}

	c.HandleStart(RequestStart)
	c.HandleStop(RequestStop)
	if !q.last().Equal(ReplyNotPlaying) || c.State() != Stopped {
		t.Fatalf("stop reply=%s state=%s", q.last(), c.State())
	}
	if len(q.cancelled) != 1 || q.cancelled[0] != session.TagStatus {
		t.Fatalf("stop cancelled=%v", q.cancelled)
	}
	if q.last() != nil && q.frames[len(q.frames)-1].tag != session.TagStatus {
		t.Fatalf("stop reply tag=%s", q.frames[len(q.frames)-1].tag)
	}
}

func TestStopKeepsPresenceReply(t *testing.T) {
	testlog.Start(t)
	a := session.NewArbiter(session.DefaultArbiterConfig(), nil, nil)
	c := New(DefaultConfig(), a, newFakeScheduler())

	c.HandlePoll(RequestPoll)
	c.HandleStart(RequestStart)
	c.HandleStop(RequestStop)

	var got []frame.Frame
	for _, p := range a.Snapshot() {
		got = append(got, p.Frame)
	}
	if len(got) != 2 || !got[0].Equal(ReplyPresent) || !got[1].Equal(ReplyNotPlaying) {
		t.Fatalf("queue=%v want present then not-playing", got)
	}
}

func TestResetDropsQueuedReplies(t *testing.T) {
	testlog.Start(t)
	a := session.NewArbiter(session.DefaultArbiterConfig(), nil, nil)
	c := New(DefaultConfig(), a, newFakeScheduler())

	c.HandlePoll(RequestPoll)
	c.HandleStart(RequestStart)
	c.Reset()
	if a.Len() != 0 || c.State() != Idle {
		t.Fatalf("pending=%d state=%s after reset", a.Len(), c.State())
	}
}

func TestDiskChangeValidation(t *testing.T) {
	testlog.Start(t)
	c, q, _ := newTestChanger(DefaultConfig())

	c.HandleDiskChange(frame.MustHex("68 05 18 38 06 02 59"))
	if len(q.frames) != 0 || c.State() != Idle {
		t.Fatalf("invalid disk change replied=%d state=%s", len(q.frames), c.State())
	}
	c.HandleDiskChange(frame.MustHex("68 05 18 38 06 02 49"))
	if !q.last().Equal(ReplyPlaying) || c.State() != Playing {
		t.Fatalf("disk change reply=%s state=%s", q.last(), c.State())
	}
}

func TestInfoRepeatSelfCancels(t *testing.T) {
	testlog.Start(t)
	cfg := DefaultConfig()
	cfg.InfoInterval = time.Second
	cfg.MaxRepeats = 5
	c, q, s := newTestChanger(cfg)

	c.HandleInfo(RequestInfo)
	if !c.Repeating() || len(s.timers) != 1 {
		t.Fatalf("repeat not scheduled timers=%d", len(s.timers))
	}
	id := c.repeatID
	for i := 0; i < 5; i++ {
		s.fire(id)
	}
	if len(q.frames) != 6 {
		t.Fatalf("frames=%d want 6", len(q.frames))
	}
	s.fire(id)
	if c.Repeating() || len(s.timers) != 0 {
		t.Fatalf("repeat still active after bound timers=%d", len(s.timers))
	}
	if len(q.frames) != 6 {
		t.Fatalf("exhausted repeat sent frames=%d", len(q.frames))
	}
}

func TestPollResetsRepeatBudget(t *testing.T) {
	testlog.Start(t)
	cfg := DefaultConfig()
	cfg.InfoInterval = time.Second
	cfg.MaxRepeats = 2
	c, q, s := newTestChanger(cfg)

	c.HandleInfo(RequestInfo)
	id := c.repeatID
	s.fire(id)
	s.fire(id)
	c.HandlePoll(RequestPoll)
	s.fire(id)
	if !c.Repeating() {
		t.Fatalf("repeat cancelled despite poll")
	}
	// info, two repeats, poll reply, one more repeat
	if len(q.frames) != 5 {
		t.Fatalf("frames=%d want 5", len(q.frames))
	}
}

func TestInfoReschedulesRepeat(t *testing.T) {
	testlog.Start(t)
	cfg := DefaultConfig()
	cfg.InfoInterval = time.Second
	c, q, s := newTestChanger(cfg)

	c.HandleInfo(RequestInfo)
	first := c.repeatID
	c.HandleStart(RequestStart)
	c.HandleInfo(RequestInfo)
	second := c.repeatID
	if first == second || len(s.timers) != 1 {
		t.Fatalf("repeat not replaced first=%d second=%d timers=%d", first, second, len(s.timers))
	}
	s.fire(second)
	if !q.last().Equal(ReplyPlaying) {
		t.Fatalf("repeat reply=%s", q.last())
	}
}

func TestStaleRepeatFireIsNoop(t *testing.T) {
	testlog.Start(t)
	cfg := DefaultConfig()
	cfg.InfoInterval = time.Second
	c, q, s := newTestChanger(cfg)

	c.HandleInfo(RequestInfo)
	stale := s.timers[c.repeatID]
	c.HandleImmobilizer(Immobilized)
	if c.Repeating() {
		t.Fatalf("immobilizer left repeat active")
	}
	before := len(q.frames)
	if stale() {
		t.Fatalf("stale timer asked to stay scheduled")
	}
	if len(q.frames) != before {
		t.Fatalf("stale timer sent a frame")
	}
}

func TestStopCancelsRepeat(t *testing.T) {
	testlog.Start(t)
	cfg := DefaultConfig()
	cfg.InfoInterval = time.Second
	c, _, s := newTestChanger(cfg)
	c.HandleInfo(RequestInfo)
	c.HandleStop(RequestStop)
	if c.Repeating() || len(s.timers) != 0 {
		t.Fatalf("stop left repeat timers=%d", len(s.timers))
	}
}

func TestAnnounceOncePerWakeCycle(t *testing.T) {
	testlog.Start(t)
	c, q, _ := newTestChanger(DefaultConfig())

	if c.AnnounceTick() {
		t.Fatalf("announced before radio traffic")
	}
	c.ObserveFrame(frame.MustHex("80 04 bf 11 00 2a"))
	if c.AnnounceTick() {
		t.Fatalf("announced after non-radio traffic")
	}
	c.ObserveFrame(frame.MustHex("68 04 3b 46 01 10"))
	if !c.AnnounceTick() {
		t.Fatalf("no announce after radio traffic")
	}
	if !q.last().Equal(ReplyAnnounce) {
		t.Fatalf("announce frame=%s", q.last())
	}
	c.ObserveFrame(frame.MustHex("68 04 3b 46 01 10"))
	if c.AnnounceTick() {
		t.Fatalf("announced twice without a poll")
	}

	c.HandlePoll(RequestPoll)
	c.ObserveFrame(frame.MustHex("68 04 3b 46 01 10"))
	if c.AnnounceTick() {
		t.Fatalf("announced while already announced")
	}
}

func TestAnnounceDisabled(t *testing.T) {
	testlog.Start(t)
	cfg := DefaultConfig()
	cfg.Announce = false
	c, q, _ := newTestChanger(cfg)
	c.ObserveFrame(frame.MustHex("68 04 3b 46 01 10"))
	if c.AnnounceTick() || len(q.frames) != 0 {
		t.Fatalf("announce sent while disabled")
	}
}

func TestResetReturnsToIdle(t *testing.T) {
	testlog.Start(t)
	cfg := DefaultConfig()
	cfg.InfoInterval = time.Second
	c, q, s := newTestChanger(cfg)
	c.HandleStart(RequestStart)
	c.HandleInfo(RequestInfo)

	c.Reset()
	if c.State() != Idle || c.Repeating() || len(s.timers) != 0 {
		t.Fatalf("reset state=%s repeating=%t timers=%d", c.State(), c.Repeating(), len(s.timers))
	}
	if len(q.cancelled) == 0 {
		t.Fatalf("reset kept queued replies")
	}
}

func TestEnterCDCMode(t *testing.T) {
	testlog.Start(t)
	c, _, _ := newTestChanger(DefaultConfig())
	c.EnterCDCMode(ModeText)
	if !c.Playing() {
		t.Fatalf("state=%s want playing", c.State())
	}
}
