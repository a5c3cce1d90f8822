package engine

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/danmuck/ibusctl/internal/changer"
	"github.com/danmuck/ibusctl/internal/host"
	"github.com/danmuck/ibusctl/internal/protocol/frame"
	"github.com/danmuck/ibusctl/internal/protocol/session"
	"github.com/rs/zerolog/log"
)

const (
	AddrNav = 0x3b
	AddrIKE = 0x80

	computerRequest = 0x41
	computerTime    = 0x01
	computerDate    = 0x02
	requestValue    = 0x01

	// Offset of the text in an IKE computer data update.
	computerTextOff = 6
)

var ErrClockText = errors.New("engine: unreadable clock text")

// ClockSync asks the instrument cluster for time and date and sets the host
// clock once both are known.
type ClockSync struct {
	queue  changer.Queue
	setter host.ClockSetter

	haveTime     bool
	hour, minute int
	haveDate     bool
	year         int
	month        time.Month
	day          int
	done         bool
}

func NewClockSync(q changer.Queue, setter host.ClockSetter) *ClockSync {
	return &ClockSync{queue: q, setter: setter}
}

// Done reports whether the host clock has been set.
func (c *ClockSync) Done() bool {
	return c.done
}

// Request queues the time and date requests.
func (c *ClockSync) Request() {
	c.request(computerTime, session.TagTime)
	c.request(computerDate, session.TagDate)
}

func (c *ClockSync) request(function byte, tag session.Tag) {
	f := frame.Build(AddrNav, AddrIKE, computerRequest, function, requestValue)
	if _, err := c.queue.Enqueue(f, session.Options{Tag: tag}); err != nil {
		log.Warn().Err(err).Msgf("engine.ClockSync.request tag=%s", tag)
	}
}

func (c *ClockSync) HandleTime(f frame.Frame) {
	c.queue.CancelByTag(session.TagTime)
	if len(f) < 13 {
		return
	}
	hour, minute, err := ParseClockTime(computerText(f))
	if err != nil {
		log.Debug().Err(err).Msgf("engine.ClockSync.HandleTime frame=%s", f)
		return
	}
	c.hour, c.minute, c.haveTime = hour, minute, true
	log.Debug().Msgf("engine.ClockSync.HandleTime time=%02d:%02d", hour, minute)
	c.apply()
}

func (c *ClockSync) HandleDate(f frame.Frame) {
	c.queue.CancelByTag(session.TagDate)
	if len(f) < 16 {
		return
	}
	year, month, day, err := ParseClockDate(computerText(f))
	if err != nil {
		log.Debug().Err(err).Msgf("engine.ClockSync.HandleDate frame=%s", f)
		return
	}
	c.year, c.month, c.day, c.haveDate = year, month, day, true
	log.Debug().Msgf("engine.ClockSync.HandleDate date=%04d-%02d-%02d", year, month, day)
	c.apply()
}

func (c *ClockSync) apply() {
	if c.done || !c.haveTime || !c.haveDate || c.setter == nil {
		return
	}
	c.done = true
	t := time.Date(c.year, c.month, c.day, c.hour, c.minute, 0, 0, time.Local)
	if err := c.setter.SetClock(t); err != nil {
		log.Error().Err(err).Msgf("engine.ClockSync.apply time=%s", t.Format("2006-01-02 15:04"))
		return
	}
	log.Info().Msgf("engine.ClockSync.apply time=%s", t.Format("2006-01-02 15:04"))
}

func computerText(f frame.Frame) string {
	if len(f) <= computerTextOff+1 {
		return ""
	}
	return string(f[computerTextOff : len(f)-1])
}

// ParseClockTime reads " 4:08PM", "12:30AM" or "16:08".
func ParseClockTime(text string) (hour, minute int, err error) {
	text = strings.TrimSpace(text)
	suffix := ""
	if n := len(text); n >= 2 {
		switch strings.ToUpper(text[n-2:]) {
		case "AM", "PM":
			suffix = strings.ToUpper(text[n-2:])
			text = strings.TrimSpace(text[:n-2])
		}
	}
	hh, mm, ok := strings.Cut(text, ":")
	if !ok || len(mm) != 2 {
		return 0, 0, fmt.Errorf("%w: time %q", ErrClockText, text)
	}
	hour, err = strconv.Atoi(strings.TrimSpace(hh))
	if err != nil {
		return 0, 0, fmt.Errorf("%w: hour %q", ErrClockText, hh)
	}
	minute, err = strconv.Atoi(mm)
	if err != nil || minute < 0 || minute > 59 {
		return 0, 0, fmt.Errorf("%w: minute %q", ErrClockText, mm)
	}
	switch suffix {
	case "":
		if hour < 0 || hour > 23 {
			return 0, 0, fmt.Errorf("%w: hour %d", ErrClockText, hour)
		}
	default:
		if hour < 1 || hour > 12 {
			return 0, 0, fmt.Errorf("%w: hour %d", ErrClockText, hour)
		}
		hour %= 12
		if suffix == "PM" {
			hour += 12
		}
	}
	return hour, minute, nil
}

// ParseClockDate reads "01/26/2010" (month first) or "26.01.2010" (day
// first). An unset cluster date such as "--/--/2002" is rejected.
func ParseClockDate(text string) (year int, month time.Month, day int, err error) {
	text = strings.TrimSpace(text)
	if len(text) < 10 {
		return 0, 0, 0, fmt.Errorf("%w: date %q", ErrClockText, text)
	}
	a, errA := strconv.Atoi(text[0:2])
	b, errB := strconv.Atoi(text[3:5])
	year, errY := strconv.Atoi(text[6:10])
	if errA != nil || errB != nil || errY != nil {
		return 0, 0, 0, fmt.Errorf("%w: date %q", ErrClockText, text)
	}
	var m int
	switch text[2] {
	case '/':
		m, day = a, b
	case '.':
		day, m = a, b
	default:
		return 0, 0, 0, fmt.Errorf("%w: separator %q", ErrClockText, text[2])
	}
	if m < 1 || m > 12 || day < 1 || day > 31 {
		return 0, 0, 0, fmt.Errorf("%w: date %q", ErrClockText, text)
	}
	// time.Date normalizes 02/31 into March.
	if time.Date(year, time.Month(m), day, 0, 0, 0, 0, time.UTC).Day() != day {
		return 0, 0, 0, fmt.Errorf("%w: no such day %q", ErrClockText, text)
	}
	return year, time.Month(m), day, nil
}
