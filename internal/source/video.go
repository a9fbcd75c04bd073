package source

import (
	"fmt"
	"image"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/tinyzimmer/go-gst/gst"
	"github.com/tinyzimmer/go-gst/gst/app"
)

type videoConfig struct {
	path          string
	loopPlayback  bool
	playbackSpeed float64
	hwAccel       bool
}

// videoSource plays a video through a GStreamer pipeline:
// filesrc → decodebin → videoconvert → videoscale → capsfilter → appsink.
// A hardware decoder replaces decodebin when one is available. The appsink
// callback stores the latest decoded frame; NextFrame hands out whatever is
// newest, starting with a black placeholder until the first real frame.
type videoSource struct {
	cfg videoConfig

	pipeline *gst.Pipeline
	appsink  *app.Sink

	mu          sync.Mutex
	latestFrame image.Image

	width    int
	height   int
	playing  bool
	prepared bool
	held     bool // end of stream reached on a non-looping video
}

const videoPollInterval = 33 * time.Millisecond

func newVideo(cfg videoConfig) (*videoSource, error) {
	if err := gst.Init(nil); err != nil {
		return nil, fmt.Errorf("gstreamer init: %w", err)
	}
	return &videoSource{cfg: cfg}, nil
}

// hwDecoderElement probes for a usable hardware decoder element, preferring
// VA-API over NVDEC. Returns "" when only software decode is available.
func hwDecoderElement() string {
	for _, name := range []string{"vaapidecodebin", "nvdec"} {
		if _, err := gst.NewElement(name); err == nil {
			return name
		}
	}
	return ""
}

func (s *videoSource) Prepare(width, height int) error {
	if s.prepared && s.width == width && s.height == height {
		return nil
	}

	// Geometry changed; the pipeline is sized to the output, so rebuild.
	s.teardown()
	s.width, s.height = width, height

	if err := s.buildPipeline(width, height); err != nil {
		return fmt.Errorf("%w: %v", ErrNotReady, err)
	}

	s.prepared = true
	return nil
}

func (s *videoSource) buildPipeline(width, height int) error {
	pipeline, err := gst.NewPipeline("")
	if err != nil {
		return fmt.Errorf("create pipeline: %w", err)
	}

	filesrc, err := gst.NewElement("filesrc")
	if err != nil {
		return fmt.Errorf("create filesrc: %w", err)
	}
	filesrc.SetProperty("location", s.cfg.path)

	decoderName := "decodebin"
	if s.cfg.hwAccel {
		if hw := hwDecoderElement(); hw != "" {
			decoderName = hw
			log.Infof("video %s: hardware decode via %s", s.cfg.path, hw)
		} else {
			log.Infof("video %s: no hardware decoder available, using software decode", s.cfg.path)
		}
	}

	decoder, err := gst.NewElement(decoderName)
	if err != nil {
		return fmt.Errorf("create %s: %w", decoderName, err)
	}

	videoconvert, err := gst.NewElement("videoconvert")
	if err != nil {
		return fmt.Errorf("create videoconvert: %w", err)
	}
	videoscale, err := gst.NewElement("videoscale")
	if err != nil {
		return fmt.Errorf("create videoscale: %w", err)
	}
	capsfilter, err := gst.NewElement("capsfilter")
	if err != nil {
		return fmt.Errorf("create capsfilter: %w", err)
	}
	capsfilter.SetProperty("caps", gst.NewCapsFromString(
		fmt.Sprintf("video/x-raw,format=RGBA,width=%d,height=%d", width, height)))

	appsink, err := app.NewAppSink()
	if err != nil {
		return fmt.Errorf("create appsink: %w", err)
	}
	// Wallpapers do not sync to the pipeline clock; only the newest frame
	// matters.
	appsink.SetProperty("sync", false)
	appsink.SetProperty("max-buffers", 1)
	appsink.SetProperty("drop", true)

	appsink.SetCallbacks(&app.SinkCallbacks{
		NewSampleFunc: s.onNewSample,
	})

	if err := pipeline.AddMany(filesrc, decoder, videoconvert, videoscale, capsfilter, appsink.Element); err != nil {
		return fmt.Errorf("add elements: %w", err)
	}
	if err := filesrc.Link(decoder); err != nil {
		return fmt.Errorf("link filesrc: %w", err)
	}
	if err := gst.ElementLinkMany(videoconvert, videoscale, capsfilter, appsink.Element); err != nil {
		return fmt.Errorf("link elements: %w", err)
	}

	// The decoder exposes its pads only once the stream is parsed.
	decoder.Connect("pad-added", func(_ *gst.Element, pad *gst.Pad) {
		caps := pad.CurrentCaps()
		if caps == nil || caps.GetSize() == 0 {
			return
		}
		if name := caps.GetStructureAt(0).Name(); len(name) < 6 || name[:6] != "video/" {
			return
		}

		sinkPad := videoconvert.GetStaticPad("sink")
		if sinkPad == nil || sinkPad.IsLinked() {
			return
		}
		if ret := pad.Link(sinkPad); ret != gst.PadLinkOK {
			log.Errorf("video %s: failed to link decoder pad: %v", s.cfg.path, ret)
		}
	})

	s.pipeline = pipeline
	s.appsink = appsink
	return nil
}

func (s *videoSource) onNewSample(sink *app.Sink) gst.FlowReturn {
	sample := sink.PullSample()
	if sample == nil {
		return gst.FlowOK
	}

	buffer := sample.GetBuffer()
	if buffer == nil {
		return gst.FlowOK
	}

	mapInfo := buffer.Map(gst.MapRead)
	data := mapInfo.Bytes()
	if len(data) < s.width*s.height*4 {
		buffer.Unmap()
		return gst.FlowOK
	}

	// The buffer is recycled by GStreamer; copy before handing it out.
	pixels := make([]byte, s.width*s.height*4)
	copy(pixels, data)
	buffer.Unmap()

	img := &image.RGBA{
		Pix:    pixels,
		Stride: s.width * 4,
		Rect:   image.Rect(0, 0, s.width, s.height),
	}

	s.mu.Lock()
	s.latestFrame = img
	s.mu.Unlock()

	return gst.FlowOK
}

func (s *videoSource) play() error {
	if err := s.pipeline.SetState(gst.StatePlaying); err != nil {
		return fmt.Errorf("start playback: %w", err)
	}
	s.playing = true

	if s.cfg.playbackSpeed != 1.0 {
		if !s.pipeline.Seek(s.cfg.playbackSpeed, gst.FormatTime,
			gst.SeekFlagFlush|gst.SeekFlagAccurate,
			gst.SeekTypeSet, 0, gst.SeekTypeNone, -1) {
			log.Warnf("video %s: failed to apply playback speed %.2f", s.cfg.path, s.cfg.playbackSpeed)
		}
	}
	return nil
}

// drainBus handles end-of-stream: loop back to the start, or hold the last
// frame for non-looping playback.
func (s *videoSource) drainBus() {
	bus := s.pipeline.GetPipelineBus()
	if bus == nil {
		return
	}

	for {
		msg := bus.TimedPop(0)
		if msg == nil {
			return
		}

		switch msg.Type() {
		case gst.MessageEOS:
			if s.cfg.loopPlayback {
				log.Debugf("video %s: end of stream, looping", s.cfg.path)
				if !s.pipeline.Seek(max(s.cfg.playbackSpeed, 0.1), gst.FormatTime,
					gst.SeekFlagFlush|gst.SeekFlagKeyUnit,
					gst.SeekTypeSet, 0, gst.SeekTypeNone, -1) {
					log.Warnf("video %s: loop seek failed", s.cfg.path)
				}
			} else {
				log.Debugf("video %s: end of stream, holding last frame", s.cfg.path)
				s.held = true
			}
		case gst.MessageError:
			gerr := msg.ParseError()
			log.Errorf("video %s: pipeline error: %v", s.cfg.path, gerr.Error())
		}
	}
}

func (s *videoSource) NextFrame() (Frame, error) {
	if !s.prepared {
		return Frame{}, ErrNotReady
	}

	if !s.playing {
		if err := s.play(); err != nil {
			return Frame{}, fmt.Errorf("%w: %v", ErrNotReady, err)
		}
	}

	s.drainBus()

	s.mu.Lock()
	frame := s.latestFrame
	s.mu.Unlock()

	if frame == nil {
		// Nothing decoded yet; commit a placeholder so the surface maps.
		frame = image.NewRGBA(image.Rect(0, 0, s.width, s.height))
	}
	return Frame{Image: frame, Timestamp: time.Now()}, nil
}

func (s *videoSource) FrameDuration() time.Duration {
	if s.held {
		return Forever
	}
	// Polling hint; the scheduler does not chase the stream's native cadence.
	return videoPollInterval
}

func (s *videoSource) IsAnimated() bool { return !s.held }

func (s *videoSource) teardown() {
	if s.pipeline != nil {
		if err := s.pipeline.SetState(gst.StateNull); err != nil {
			log.Debugf("video %s: teardown: %v", s.cfg.path, err)
		}
	}
	s.pipeline = nil
	s.appsink = nil
	s.mu.Lock()
	s.latestFrame = nil
	s.mu.Unlock()
	s.playing = false
	s.prepared = false
	s.held = false
}

func (s *videoSource) Release() {
	s.teardown()
}

func (s *videoSource) Description() string {
	return fmt.Sprintf("video: %s (loop: %v, speed: %.2f, hw: %v)",
		s.cfg.path, s.cfg.loopPlayback, s.cfg.playbackSpeed, s.cfg.hwAccel)
}
