package deck

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/satindergrewal/twindeck/internal/audio"
	"github.com/satindergrewal/twindeck/internal/clock"
)

const eps = 1e-9

// fakeOutput records what the deck asked the output graph to do.
type fakeOutput struct {
	mu      sync.Mutex
	starts  int
	stops   int
	offset  float64
	looping bool
	playing bool
	gain    float64
}

func (f *fakeOutput) Start(t *audio.Track, offset float64, looping bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.starts++
	f.offset = offset
	f.looping = looping
	f.playing = true
}

func (f *fakeOutput) Stop() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stops++
	f.playing = false
}

func (f *fakeOutput) SetLooping(v bool) {
	f.mu.Lock()
	f.looping = v
	f.mu.Unlock()
}

func (f *fakeOutput) SetGain(g float64) {
	f.mu.Lock()
	f.gain = g
	f.mu.Unlock()
}

func track(dur float64) *audio.Track {
	return &audio.Track{Name: "t.wav", Duration: dur}
}

func newDeck(start float64) (*Deck, *clock.Manual, *fakeOutput) {
	c := clock.NewManual(start)
	out := &fakeOutput{}
	return New("A", c, out, nil), c, out
}

func near(a, b float64) bool { return math.Abs(a-b) < eps }

// --- State machine ---

func TestInitialState(t *testing.T) {
	d, _, out := newDeck(0)
	if d.State() != Stopped || d.Track() != nil {
		t.Fatalf("new deck: state %v track %v, want stopped and empty", d.State(), d.Track())
	}
	if d.Volume() != 1 || d.CrossfaderGain() != 1 || out.gain != 1 {
		t.Errorf("initial gains: volume %v xf %v out %v, want 1", d.Volume(), d.CrossfaderGain(), out.gain)
	}
	if p := d.Tick(5); p.Elapsed != 0 || p.Ended {
		t.Errorf("Tick on empty deck = %+v, want zero", p)
	}
}

func TestPlayWithoutTrackIsNoop(t *testing.T) {
	d, _, out := newDeck(0)
	if d.Play() {
		t.Error("Play with no track reported started")
	}
	if d.State() != Stopped || out.starts != 0 {
		t.Errorf("state %v starts %d, want stopped and no output start", d.State(), out.starts)
	}
}

func TestPlayZeroDurationIsNoop(t *testing.T) {
	d, _, out := newDeck(0)
	d.LoadTrack(track(0))
	if d.Play() || d.State() != Stopped || out.starts != 0 {
		t.Error("Play with zero-duration track should be a no-op")
	}
}

func TestPauseWhenNotPlayingIsNoop(t *testing.T) {
	d, c, _ := newDeck(0)
	d.LoadTrack(track(10))
	d.Pause()
	if d.State() != Stopped {
		t.Errorf("Pause while stopped moved to %v", d.State())
	}
	d.Play()
	c.Set(3)
	d.Pause()
	c.Set(8)
	d.Pause() // second pause must not overwrite the offset
	if p := d.Tick(8); !near(p.Elapsed, 3) {
		t.Errorf("double pause elapsed = %v, want 3", p.Elapsed)
	}
}

func TestDoublePlayIsNoop(t *testing.T) {
	d, c, out := newDeck(0)
	d.LoadTrack(track(10))
	d.Play()
	c.Set(2)
	if d.Play() {
		t.Error("second Play reported started")
	}
	if out.starts != 1 {
		t.Errorf("output started %d times, want 1", out.starts)
	}
	if p := d.Tick(2); !near(p.Elapsed, 2) {
		t.Errorf("elapsed = %v, want 2 (anchor unchanged)", p.Elapsed)
	}
}

func TestPlayThenImmediateTickIsZero(t *testing.T) {
	for _, dur := range []float64{0.001, 1, 3, 10, 3600} {
		d, c, _ := newDeck(123.456)
		d.LoadTrack(track(dur))
		d.Play()
		if p := d.Tick(c.Now()); math.Abs(p.Elapsed) > eps {
			t.Errorf("dur %v: elapsed right after play = %v, want 0", dur, p.Elapsed)
		}
	}
}

func TestLinearClockTracking(t *testing.T) {
	d, _, _ := newDeck(0)
	d.LoadTrack(track(100))
	d.Play()
	pairs := [][2]float64{{0.5, 1.5}, {2, 50}, {10.25, 99.75}}
	for _, pr := range pairs {
		e1 := d.Tick(pr[0]).Elapsed
		e2 := d.Tick(pr[1]).Elapsed
		if !near(e2-e1, pr[1]-pr[0]) {
			t.Errorf("tick(%v)-tick(%v) = %v, want %v", pr[1], pr[0], e2-e1, pr[1]-pr[0])
		}
	}
}

func TestPauseResumeContinuous(t *testing.T) {
	for _, pauseLen := range []float64{0, 0.001, 1, 1000} {
		d, c, _ := newDeck(0)
		d.LoadTrack(track(30))
		d.Play()
		c.Set(7.25)
		before := d.Tick(c.Now()).Elapsed
		d.Pause()
		c.Advance(pauseLen)
		if p := d.Tick(c.Now()); !near(p.Elapsed, before) {
			t.Errorf("paused %v: elapsed %v, want %v", pauseLen, p.Elapsed, before)
		}
		d.Play()
		if after := d.Tick(c.Now()).Elapsed; !near(after, before) {
			t.Errorf("pause %v: elapsed jumped from %v to %v", pauseLen, before, after)
		}
	}
}

func TestStopAlwaysResets(t *testing.T) {
	setups := map[string]func(d *Deck, c *clock.Manual){
		"stopped": func(d *Deck, c *clock.Manual) {},
		"playing": func(d *Deck, c *clock.Manual) { d.Play(); c.Set(4) },
		"paused":  func(d *Deck, c *clock.Manual) { d.Play(); c.Set(4); d.Pause() },
		"looping": func(d *Deck, c *clock.Manual) { d.ToggleLoop(); d.Play(); c.Set(25) },
	}
	for name, setup := range setups {
		d, c, out := newDeck(0)
		d.LoadTrack(track(10))
		setup(d, c)
		d.Stop()
		if p := d.Tick(c.Now() + 1); p.Elapsed != 0 || p.State != Stopped {
			t.Errorf("%s: after Stop position = %+v, want 0 stopped", name, p)
		}
		if out.playing {
			t.Errorf("%s: output still playing after Stop", name)
		}
		// play after stop starts from 0
		d.Play()
		if p := d.Tick(c.Now()); !near(p.Elapsed, 0) {
			t.Errorf("%s: play after stop elapsed = %v, want 0", name, p.Elapsed)
		}
	}
}

func TestLoopWrap(t *testing.T) {
	const dur = 3.0
	d, c, _ := newDeck(5)
	d.LoadTrack(track(dur))
	d.ToggleLoop()
	d.Play()
	anchor := c.Now()
	for k := 0; k < 5; k++ {
		for _, r := range []float64{0, 0.5, 1.25, 2.999} {
			p := d.Tick(anchor + float64(k)*dur + r)
			if math.Abs(p.Elapsed-r) > 1e-6 {
				t.Errorf("k=%d r=%v: elapsed = %v, want %v", k, r, p.Elapsed, r)
			}
			if p.Ended {
				t.Errorf("k=%d r=%v: looping deck reported end", k, r)
			}
		}
	}
}

func TestLoadResetsPlayback(t *testing.T) {
	d, c, out := newDeck(0)
	d.LoadTrack(track(10))
	d.Play()
	c.Set(4)
	d.Pause()

	d.LoadTrack(track(20))
	if d.State() != Stopped {
		t.Errorf("state after load = %v, want stopped", d.State())
	}
	if d.Track().Duration != 20 {
		t.Errorf("track not replaced")
	}
	d.Play()
	if out.offset != 0 {
		t.Errorf("play after load started at %v, want 0", out.offset)
	}
}

func TestPlayWrapsStaleOffset(t *testing.T) {
	d, c, out := newDeck(0)
	d.LoadTrack(track(5))
	d.Play()
	c.Set(7) // past the end, end not yet handled
	d.Pause()
	d.Play()
	if !near(out.offset, 2) {
		t.Errorf("resume offset = %v, want 2 (7 mod 5)", out.offset)
	}
}

// --- Scenarios ---

func TestScenarioPauseResume(t *testing.T) {
	d, c, _ := newDeck(0)
	d.LoadTrack(track(10))
	d.Play()
	c.Set(4)
	d.Pause()
	if d.pausedOffset != 4 {
		t.Errorf("pausedOffset = %v, want 4", d.pausedOffset)
	}
	c.Set(10)
	d.Play()
	if d.anchor != 6 {
		t.Errorf("anchor = %v, want 6", d.anchor)
	}
	if p := d.Tick(12); p.Elapsed != 6 {
		t.Errorf("tick(12) = %v, want 6", p.Elapsed)
	}
}

func TestScenarioLoopingThreeSeconds(t *testing.T) {
	d, _, _ := newDeck(0)
	d.LoadTrack(track(3))
	d.ToggleLoop()
	d.Play()
	if p := d.Tick(7); !near(p.Elapsed, 1) {
		t.Errorf("tick(7) = %v, want 1", p.Elapsed)
	}
}

func TestScenarioNaturalEnd(t *testing.T) {
	d, c, out := newDeck(0)
	d.LoadTrack(track(5))
	d.Play()
	p := d.Tick(6)
	if !p.Ended || p.Elapsed < p.Duration {
		t.Fatalf("tick(6) = %+v, want natural end", p)
	}
	c.Set(6)
	if !d.StopIfEnded() {
		t.Fatal("StopIfEnded did not stop an ended deck")
	}
	if out.playing {
		t.Error("output still playing after natural end")
	}
	if p := d.Tick(7); p.Elapsed != 0 || p.State != Stopped {
		t.Errorf("after stop tick = %+v, want 0 stopped", p)
	}
}

func TestStopIfEndedLeavesRunningDeck(t *testing.T) {
	d, c, _ := newDeck(0)
	d.LoadTrack(track(5))
	d.Play()
	c.Set(4.9)
	if d.StopIfEnded() || d.State() != Playing {
		t.Error("StopIfEnded stopped a deck before its end")
	}
	d.ToggleLoop()
	c.Set(50)
	if d.StopIfEnded() {
		t.Error("StopIfEnded stopped a looping deck")
	}
}

// --- Loop toggling ---

func TestToggleLoopOffAfterWrapNoFalseEnd(t *testing.T) {
	d, c, out := newDeck(0)
	d.LoadTrack(track(3))
	d.ToggleLoop()
	d.Play()
	c.Set(7.5) // wrapped elapsed 1.5, raw elapsed 7.5 > duration
	before := d.Tick(c.Now()).Elapsed

	if d.ToggleLoop() {
		t.Fatal("ToggleLoop should report looping off")
	}
	if out.looping {
		t.Error("output loop flag not updated in place")
	}
	if out.starts != 1 {
		t.Errorf("output restarted %d times, want in-place update", out.starts-1)
	}
	p := d.Tick(c.Now())
	if p.Ended {
		t.Fatal("false natural end right after turning looping off")
	}
	if !near(p.Elapsed, before) {
		t.Errorf("elapsed jumped from %v to %v on toggle", before, p.Elapsed)
	}
	// now plays through to the real end
	if p := d.Tick(c.Now() + 1.4); p.Ended {
		t.Error("ended too early")
	}
	if p := d.Tick(c.Now() + 1.5); !p.Ended {
		t.Error("did not end at the end of the current pass")
	}
}

func TestToggleLoopOnKeepsPosition(t *testing.T) {
	d, c, out := newDeck(0)
	d.LoadTrack(track(10))
	d.Play()
	c.Set(4)
	d.ToggleLoop()
	if !out.looping {
		t.Error("output not told to loop")
	}
	if p := d.Tick(4); !near(p.Elapsed, 4) {
		t.Errorf("elapsed = %v, want 4", p.Elapsed)
	}
	if p := d.Tick(15); !near(p.Elapsed, 5) || p.Ended {
		t.Errorf("tick(15) = %+v, want 5 looping", p)
	}
}

func TestToggleLoopOnAfterEndRestartsOutput(t *testing.T) {
	d, c, out := newDeck(0)
	d.LoadTrack(track(5))
	d.Play()
	c.Set(6) // ended, nobody stopped it yet
	d.ToggleLoop()
	if out.starts != 2 || !out.looping || !near(out.offset, 1) {
		t.Errorf("output starts %d looping %v offset %v, want restart at 1 looping", out.starts, out.looping, out.offset)
	}
	if p := d.Tick(6); p.Ended || !near(p.Elapsed, 1) {
		t.Errorf("tick = %+v, want elapsed 1 not ended", p)
	}
}

func TestToggleLoopWhileStopped(t *testing.T) {
	d, _, _ := newDeck(0)
	if !d.ToggleLoop() || !d.Looping() {
		t.Error("ToggleLoop on empty deck should still flip the flag")
	}
	d.SetLooping(false)
	if d.Looping() {
		t.Error("SetLooping(false) ignored")
	}
}

func TestPauseWhileLoopingStoresWrappedOffset(t *testing.T) {
	d, c, out := newDeck(0)
	d.LoadTrack(track(3))
	d.ToggleLoop()
	d.Play()
	c.Set(7)
	d.Pause()
	if p := d.Tick(100); !near(p.Elapsed, 1) {
		t.Errorf("paused elapsed = %v, want 1", p.Elapsed)
	}
	d.Play()
	if !near(out.offset, 1) {
		t.Errorf("resume offset = %v, want 1", out.offset)
	}
}

// --- Gain stage ---

func TestGainComposition(t *testing.T) {
	d, _, out := newDeck(0)
	d.SetVolume(0.5)
	d.SetCrossfaderGain(0.8)
	if !near(d.Gain(), 0.4) || !near(out.gain, 0.4) {
		t.Errorf("gain = %v out %v, want 0.4", d.Gain(), out.gain)
	}
	d.SetVolume(7)
	if d.Volume() != 1 {
		t.Errorf("volume not clamped: %v", d.Volume())
	}
	d.SetCrossfaderGain(-1)
	if d.CrossfaderGain() != 0 || out.gain != 0 {
		t.Errorf("crossfader gain not clamped: %v", d.CrossfaderGain())
	}
}

// --- Load ---

type stubDecoder struct {
	track *audio.Track
	err   error
	gate  chan struct{}
}

func (s *stubDecoder) Decode(ctx context.Context, name string, raw []byte) (*audio.Track, error) {
	if s.gate != nil {
		<-s.gate
	}
	return s.track, s.err
}

func TestLoadSuccess(t *testing.T) {
	c := clock.NewManual(0)
	d := New("A", c, nil, &stubDecoder{track: track(8)})
	tr, err := d.Load(context.Background(), "t.wav", []byte("x"))
	if err != nil || tr == nil || d.Track() != tr {
		t.Fatalf("Load = %v, %v; deck track %v", tr, err, d.Track())
	}
}

func TestLoadFailureLeavesDeckUntouched(t *testing.T) {
	c := clock.NewManual(0)
	out := &fakeOutput{}
	dec := &stubDecoder{err: errors.New("bad header")}
	d := New("A", c, out, dec)
	orig := track(10)
	d.LoadTrack(orig)
	d.Play()
	c.Set(3)

	_, err := d.Load(context.Background(), "broken.mp3", []byte("x"))
	var de *audio.DecodeError
	if !errors.As(err, &de) {
		t.Fatalf("err = %v, want *audio.DecodeError", err)
	}
	if de.Name != "broken.mp3" || de.Reason != "bad header" {
		t.Errorf("DecodeError = %+v", de)
	}
	if d.Track() != orig || d.State() != Playing {
		t.Error("failed load changed deck state")
	}
	if p := d.Tick(3); !near(p.Elapsed, 3) {
		t.Errorf("elapsed = %v, want 3", p.Elapsed)
	}
	if !out.playing {
		t.Error("failed load stopped the output")
	}
}

func TestLoadWithoutDecoder(t *testing.T) {
	d := New("A", clock.NewManual(0), nil, nil)
	_, err := d.Load(context.Background(), "a.wav", nil)
	var de *audio.DecodeError
	if !errors.As(err, &de) {
		t.Fatalf("err = %v, want *audio.DecodeError", err)
	}
}

// gatedDecoder returns a different track per call, each released by its own gate.
type gatedDecoder struct {
	mu    sync.Mutex
	calls int
	gates []chan struct{}
	out   []*audio.Track
}

func (g *gatedDecoder) Decode(ctx context.Context, name string, raw []byte) (*audio.Track, error) {
	g.mu.Lock()
	i := g.calls
	g.calls++
	g.mu.Unlock()
	<-g.gates[i]
	return g.out[i], nil
}

func TestLoadLastRequestWins(t *testing.T) {
	first, second := track(1), track(2)
	dec := &gatedDecoder{
		gates: []chan struct{}{make(chan struct{}), make(chan struct{})},
		out:   []*audio.Track{first, second},
	}
	d := New("A", clock.NewManual(0), nil, dec)

	errFirst := make(chan error, 1)
	go func() {
		_, err := d.Load(context.Background(), "first", nil)
		errFirst <- err
	}()
	waitCalls(t, dec, 1)

	errSecond := make(chan error, 1)
	go func() {
		_, err := d.Load(context.Background(), "second", nil)
		errSecond <- err
	}()
	waitCalls(t, dec, 2)

	close(dec.gates[1]) // newer resolves first
	if err := <-errSecond; err != nil {
		t.Fatalf("second load: %v", err)
	}
	close(dec.gates[0]) // stale result arrives late
	if err := <-errFirst; !errors.Is(err, ErrSuperseded) {
		t.Fatalf("first load err = %v, want ErrSuperseded", err)
	}
	if d.Track() != second {
		t.Error("stale load overwrote the newer track")
	}
}

func waitCalls(t *testing.T, g *gatedDecoder, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		g.mu.Lock()
		c := g.calls
		g.mu.Unlock()
		if c >= n {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("decoder never reached %d calls", n)
}

// --- Position ---

func TestPositionFormatting(t *testing.T) {
	p := Position{Elapsed: 65.9, Duration: 125}
	if got := p.String(); got != "01:05 / 02:05" {
		t.Errorf("String() = %q", got)
	}
	if got := p.Progress(); !near(got, 52.72) {
		t.Errorf("Progress() = %v, want 52.72", got)
	}
	if (Position{}).Progress() != 0 {
		t.Error("Progress with no duration should be 0")
	}
	if (Position{Elapsed: 9, Duration: 5}).Progress() != 100 {
		t.Error("Progress should cap at 100")
	}
	if FormatTime(-3) != "00:00" {
		t.Error("negative time should format as 00:00")
	}
}

func TestStateString(t *testing.T) {
	if Playing.String() != "playing" || Paused.String() != "paused" || Stopped.String() != "stopped" {
		t.Error("State.String mismatch")
	}
	if State(9).String() != "State(9)" {
		t.Errorf("unknown state = %q", State(9).String())
	}
}
