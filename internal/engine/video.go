package engine

import (
	"fmt"

	"github.com/danmuck/ibusctl/internal/changer"
	"github.com/danmuck/ibusctl/internal/protocol/frame"
	"github.com/danmuck/ibusctl/internal/protocol/session"
	"github.com/rs/zerolog/log"
)

// Addresses of the video switch microcontroller. Neither is used by the car.
const (
	AddrHost  = 0xd7
	AddrVideo = 0xd8

	videoSetSettings = 0x70
	videoSetSource   = 0x71
)

type VideoSource byte

const (
	VideoCar VideoSource = iota
	VideoHost
	VideoCamera
)

func (s VideoSource) String() string {
	switch s {
	case VideoCar:
		return "car"
	case VideoHost:
		return "host"
	case VideoCamera:
		return "camera"
	default:
		return fmt.Sprintf("source(%d)", byte(s))
	}
}

// Settings bits understood by the video switch. Each disables a decision the
// switch would otherwise make on its own.
const (
	SettingNoPhoneButton byte = 1 << iota
	SettingNoCamera
	SettingNoCDC
	SettingNoIdleTimeout
)

// gearReverse is the high nibble of the IKE sensor gear byte in reverse.
const gearReverse = 1

// Video selects the screen input through the video switch.
type Video struct {
	queue     changer.Queue
	camera    bool
	bluetooth bool

	source    VideoSource
	reversing bool
}

func NewVideo(q changer.Queue, camera, bluetooth bool) *Video {
	return &Video{queue: q, camera: camera, bluetooth: bluetooth}
}

// Source is the selected input, ignoring a camera override.
func (v *Video) Source() VideoSource {
	return v.source
}

func (v *Video) Reversing() bool {
	return v.reversing
}

// SendSettings hands every switching decision to the host. The frame is
// untagged so a source selection never withdraws it.
func (v *Video) SendSettings(idleTimeout bool) {
	bits := SettingNoPhoneButton | SettingNoCamera | SettingNoCDC
	if !idleTimeout {
		bits |= SettingNoIdleTimeout
	}
	f := frame.Build(AddrHost, AddrVideo, videoSetSettings, bits)
	if _, err := v.queue.Enqueue(f, session.Options{}); err != nil {
		log.Warn().Err(err).Msg("engine.Video.SendSettings")
	}
}

// Select switches to src unless the camera is showing.
func (v *Video) Select(src VideoSource) {
	if v.source == src {
		return
	}
	v.source = src
	if !v.reversing {
		v.send(src)
	}
}

// Cycle steps car, host, camera on the phone button.
func (v *Video) Cycle(frame.Frame) {
	if v.bluetooth {
		return
	}
	v.source = (v.source + 1) % (VideoCamera + 1)
	if !v.reversing {
		v.send(v.source)
	}
}

// Gear follows the IKE sensor status: reverse shows the camera, leaving it
// restores the selected source.
func (v *Video) Gear(f frame.Frame) {
	if !v.camera || len(f) < 6 {
		return
	}
	reverse := f[5]>>4 == gearReverse
	if reverse == v.reversing {
		return
	}
	v.reversing = reverse
	if reverse {
		v.send(VideoCamera)
		return
	}
	v.send(v.source)
}

func (v *Video) send(src VideoSource) {
	if n := v.queue.CancelByTag(session.TagVideo); n > 0 {
		log.Debug().Msgf("engine.Video.send superseded=%d", n)
	}
	log.Info().Msgf("engine.Video.send source=%s", src)
	f := frame.Build(AddrHost, AddrVideo, videoSetSource, byte(src))
	if _, err := v.queue.Enqueue(f, session.Options{Tag: session.TagVideo}); err != nil {
		log.Warn().Err(err).Msgf("engine.Video.send source=%s", src)
	}
}
