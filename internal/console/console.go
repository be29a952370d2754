// Package console is a line-oriented control surface for the mixer.
package console

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/chzyer/readline"

	"github.com/satindergrewal/twindeck/internal/audio"
	"github.com/satindergrewal/twindeck/internal/deck"
	"github.com/satindergrewal/twindeck/internal/mixer"
	"github.com/satindergrewal/twindeck/internal/session"
	"github.com/satindergrewal/twindeck/internal/waveform"
)

// ErrQuit is returned by Exec for the quit command.
var ErrQuit = errors.New("quit")

const help = `commands:
  load <deck> <path>   decode a file onto a deck
  play|pause|stop <deck>
  loop <deck>          toggle looping
  vol <deck> <0..1>    deck volume
  xf <-1..1>           crossfader
  master <0..1>        master volume
  status               show every deck
  wave <deck> [width]  waveform preview
  save <path>          export the session
  open <path>          import a session
  quit`

// Console dispatches text commands to a mixer.
type Console struct {
	ctx       context.Context
	mixer     *mixer.Mixer
	out       io.Writer
	tracker   *deck.Tracker
	waveWidth int
}

// New creates a console writing replies to out.
func New(ctx context.Context, m *mixer.Mixer, out io.Writer, pollInterval time.Duration, waveWidth int) *Console {
	if waveWidth <= 0 {
		waveWidth = 60
	}
	return &Console{
		ctx:       ctx,
		mixer:     m,
		out:       out,
		tracker:   deck.NewTracker(ctx, pollInterval),
		waveWidth: waveWidth,
	}
}

func (c *Console) printf(format string, args ...any) {
	fmt.Fprintf(c.out, format, args...)
}

func (c *Console) deck(key string) (int, *deck.Deck, error) {
	i, d, ok := c.mixer.Lookup(key)
	if !ok {
		return 0, nil, fmt.Errorf("unknown deck %q", key)
	}
	return i, d, nil
}

func parseLevel(s string) (float64, error) {
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("not a number: %q", s)
	}
	return v, nil
}

// Exec runs one command line.
func (c *Console) Exec(line string) error {
	f := strings.Fields(line)
	if len(f) == 0 {
		return nil
	}
	cmd, args := strings.ToLower(f[0]), f[1:]

	need := func(n int) error {
		if len(args) < n {
			return fmt.Errorf("%s: expected %d argument(s), see help", cmd, n)
		}
		return nil
	}

	switch cmd {
	case "help", "?":
		c.printf("%s\n", help)

	case "quit", "exit":
		return ErrQuit

	case "load":
		if err := need(2); err != nil {
			return err
		}
		_, d, err := c.deck(args[0])
		if err != nil {
			return err
		}
		path := strings.Join(args[1:], " ")
		raw, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("load: %w", err)
		}
		t, err := d.Load(c.ctx, path, raw)
		if err != nil {
			return err
		}
		c.printf("deck %s: %s (%s)\n", d.ID(), t.Name, deck.FormatTime(t.Duration))

	case "play", "pause", "stop", "loop":
		if err := need(1); err != nil {
			return err
		}
		i, d, err := c.deck(args[0])
		if err != nil {
			return err
		}
		switch cmd {
		case "play":
			if d.Play() {
				c.tracker.Follow(d, func(deck.Position) {})
			}
		case "pause":
			d.Pause()
		case "stop":
			d.Stop()
		case "loop":
			d.ToggleLoop()
		}
		c.printDeck(i)

	case "vol":
		if err := need(2); err != nil {
			return err
		}
		i, _, err := c.deck(args[0])
		if err != nil {
			return err
		}
		v, err := parseLevel(args[1])
		if err != nil {
			return err
		}
		c.mixer.SetDeckVolume(i, v)
		c.printDeck(i)

	case "xf", "master":
		if err := need(1); err != nil {
			return err
		}
		v, err := parseLevel(args[0])
		if err != nil {
			return err
		}
		if cmd == "xf" {
			c.mixer.SetCrossfader(v)
		} else {
			c.mixer.SetMasterVolume(v)
		}
		bus := c.mixer.Bus()
		c.printf("master %.2f  crossfader %+.2f\n", bus.MasterVolume, bus.Crossfader)

	case "status":
		bus := c.mixer.Bus()
		c.printf("master %.2f  crossfader %+.2f\n", bus.MasterVolume, bus.Crossfader)
		for i := range c.mixer.Decks() {
			c.printDeck(i)
		}

	case "wave":
		if err := need(1); err != nil {
			return err
		}
		_, d, err := c.deck(args[0])
		if err != nil {
			return err
		}
		width := c.waveWidth
		if len(args) > 1 {
			if width, err = strconv.Atoi(args[1]); err != nil || width <= 0 {
				return fmt.Errorf("wave: width must be a positive integer")
			}
		}
		if d.Track() == nil {
			return fmt.Errorf("deck %s: no track loaded", d.ID())
		}
		c.printf("%s\n", waveform.Bars(waveform.Profile(d.Track(), width)))

	case "save":
		if err := need(1); err != nil {
			return err
		}
		return c.save(args[0])

	case "open":
		if err := need(1); err != nil {
			return err
		}
		fh, err := os.Open(args[0])
		if err != nil {
			return fmt.Errorf("open: %w", err)
		}
		defer fh.Close()
		if _, err := session.Import(fh, c.mixer); err != nil {
			return err
		}
		c.printf("session restored from %s\n", args[0])

	default:
		return fmt.Errorf("unknown command %q, type help", cmd)
	}
	return nil
}

func (c *Console) save(path string) error {
	fh, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("save: %w", err)
	}
	if err := session.Export(fh, c.mixer); err != nil {
		fh.Close()
		return err
	}
	if err := fh.Close(); err != nil {
		return fmt.Errorf("save: %w", err)
	}
	c.printf("session saved to %s\n", path)
	return nil
}

func (c *Console) printDeck(i int) {
	st, ok := c.mixer.DeckStatus(i)
	if !ok {
		return
	}
	name := st.Track
	if name == "" {
		name = "(empty)"
	}
	loop := ""
	if st.Position.Looping {
		loop = " loop"
	}
	c.printf("[%s/%s] %-8s %s %5.1f%%  vol %.2f  gain %.2f%s  %s\n",
		st.ID, st.Side, st.Position.State, st.Display, st.Progress,
		st.Volume, st.EffectiveGain, loop, name)
}

// Run reads commands with line editing until quit, EOF or ctx is done.
func (c *Console) Run(ctx context.Context) error {
	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "twindeck> ",
		InterruptPrompt: "^C",
		EOFPrompt:       "quit",
		AutoComplete:    c.completer(),
	})
	if err != nil {
		return fmt.Errorf("console: %w", err)
	}
	defer rl.Close()
	c.out = rl.Stdout()

	go func() {
		<-ctx.Done()
		rl.Close()
	}()

	c.printf("twindeck console, %d decks at %d Hz. Type help.\n", len(c.mixer.Decks()), audio.SampleRate)
	for {
		line, err := rl.Readline()
		if errors.Is(err, readline.ErrInterrupt) {
			if line == "" {
				return nil
			}
			continue
		}
		if err != nil {
			// io.EOF or closed by ctx
			return nil
		}
		if err := c.Exec(line); err != nil {
			if errors.Is(err, ErrQuit) {
				return nil
			}
			c.printf("error: %v\n", err)
		}
	}
}

func (c *Console) completer() *readline.PrefixCompleter {
	deckItems := func() []readline.PrefixCompleterInterface {
		var items []readline.PrefixCompleterInterface
		for _, d := range c.mixer.Decks() {
			items = append(items, readline.PcItem(strings.ToLower(d.ID())))
		}
		return items
	}
	var top []readline.PrefixCompleterInterface
	for _, cmd := range []string{"load", "play", "pause", "stop", "loop", "vol", "wave"} {
		top = append(top, readline.PcItem(cmd, deckItems()...))
	}
	for _, cmd := range []string{"xf", "master", "status", "save", "open", "help", "quit"} {
		top = append(top, readline.PcItem(cmd))
	}
	return readline.NewPrefixCompleter(top...)
}
