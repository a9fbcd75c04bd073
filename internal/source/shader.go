package source

import (
	_ "embed"
	"encoding/binary"
	"fmt"
	"image"
	"math"
	"os"
	"time"

	"github.com/charmbracelet/log"
	"github.com/rajveermalviya/go-webgpu/wgpu"

	"github.com/driftbg/driftbg/internal/config"
)

//go:embed shaders/plasma.wgsl
var presetPlasma string

//go:embed shaders/waves.wgsl
var presetWaves string

//go:embed shaders/gradient.wgsl
var presetGradient string

type shaderConfig struct {
	preset     config.ShaderPreset
	customPath string
	fpsLimit   int
}

// readbackAlign is the row alignment WebGPU requires for texture-to-buffer
// copies.
const readbackAlign = 256

// uniformsSize covers resolution vec2<f32>, time f32, and padding f32.
const uniformsSize = 16

// shaderSource renders WGSL into an offscreen texture and reads it back into
// an RGBA image each frame.
type shaderSource struct {
	cfg    shaderConfig
	wgsl   string
	start  time.Time
	width  int
	height int

	instance      *wgpu.Instance
	device        *wgpu.Device
	queue         *wgpu.Queue
	pipeline      *wgpu.RenderPipeline
	uniformBuffer *wgpu.Buffer
	bindGroup     *wgpu.BindGroup
	texture       *wgpu.Texture
	textureView   *wgpu.TextureView
	readback      *wgpu.Buffer

	prepared bool
}

func newShader(cfg shaderConfig) (*shaderSource, error) {
	var wgsl string
	switch {
	case cfg.customPath != "":
		data, err := os.ReadFile(cfg.customPath)
		if err != nil {
			return nil, fmt.Errorf("load shader %s: %w", cfg.customPath, err)
		}
		if len(data) > config.MaxShaderBytes {
			return nil, fmt.Errorf("shader %s exceeds %d bytes", cfg.customPath, config.MaxShaderBytes)
		}
		wgsl = string(data)
	case cfg.preset == config.PresetPlasma:
		wgsl = presetPlasma
	case cfg.preset == config.PresetWaves:
		wgsl = presetWaves
	default:
		wgsl = presetGradient
	}

	return &shaderSource{cfg: cfg, wgsl: wgsl, start: time.Now()}, nil
}

func alignedBytesPerRow(width int) int {
	unaligned := width * 4
	return (unaligned + readbackAlign - 1) / readbackAlign * readbackAlign
}

func (s *shaderSource) Prepare(width, height int) error {
	if s.prepared && s.width == width && s.height == height {
		return nil
	}

	s.releaseGPU()
	if err := s.initGPU(width, height); err != nil {
		s.releaseGPU()
		return fmt.Errorf("%w: %v", ErrNotReady, err)
	}

	s.width, s.height = width, height
	s.prepared = true
	return nil
}

func (s *shaderSource) initGPU(width, height int) error {
	s.instance = wgpu.CreateInstance(nil)

	adapter, err := s.instance.RequestAdapter(&wgpu.RequestAdapterOptions{
		PowerPreference: wgpu.PowerPreference_LowPower,
	})
	if err != nil {
		return fmt.Errorf("request adapter: %w", err)
	}
	defer adapter.Release()

	info := adapter.GetProperties()
	log.Infof("shader wallpaper using adapter %q (%s)", info.Name, info.BackendType)

	s.device, err = adapter.RequestDevice(nil)
	if err != nil {
		return fmt.Errorf("request device: %w", err)
	}
	s.queue = s.device.GetQueue()

	shaderModule, err := s.device.CreateShaderModule(&wgpu.ShaderModuleDescriptor{
		Label:          "wallpaper shader",
		WGSLDescriptor: &wgpu.ShaderModuleWGSLDescriptor{Code: s.wgsl},
	})
	if err != nil {
		return fmt.Errorf("compile shader: %w", err)
	}
	defer shaderModule.Release()

	s.uniformBuffer, err = s.device.CreateBuffer(&wgpu.BufferDescriptor{
		Label: "uniforms",
		Size:  uniformsSize,
		Usage: wgpu.BufferUsage_Uniform | wgpu.BufferUsage_CopyDst,
	})
	if err != nil {
		return fmt.Errorf("create uniform buffer: %w", err)
	}

	bindGroupLayout, err := s.device.CreateBindGroupLayout(&wgpu.BindGroupLayoutDescriptor{
		Label: "uniform layout",
		Entries: []wgpu.BindGroupLayoutEntry{{
			Binding:    0,
			Visibility: wgpu.ShaderStage_Vertex | wgpu.ShaderStage_Fragment,
			Buffer: wgpu.BufferBindingLayout{
				Type: wgpu.BufferBindingType_Uniform,
			},
		}},
	})
	if err != nil {
		return fmt.Errorf("create bind group layout: %w", err)
	}
	defer bindGroupLayout.Release()

	s.bindGroup, err = s.device.CreateBindGroup(&wgpu.BindGroupDescriptor{
		Label:  "uniform bind group",
		Layout: bindGroupLayout,
		Entries: []wgpu.BindGroupEntry{{
			Binding: 0,
			Buffer:  s.uniformBuffer,
			Size:    uniformsSize,
		}},
	})
	if err != nil {
		return fmt.Errorf("create bind group: %w", err)
	}

	pipelineLayout, err := s.device.CreatePipelineLayout(&wgpu.PipelineLayoutDescriptor{
		Label:            "shader pipeline layout",
		BindGroupLayouts: []*wgpu.BindGroupLayout{bindGroupLayout},
	})
	if err != nil {
		return fmt.Errorf("create pipeline layout: %w", err)
	}
	defer pipelineLayout.Release()

	s.pipeline, err = s.device.CreateRenderPipeline(&wgpu.RenderPipelineDescriptor{
		Label:  "shader pipeline",
		Layout: pipelineLayout,
		Vertex: wgpu.VertexState{
			Module:     shaderModule,
			EntryPoint: "vs_main",
		},
		Fragment: &wgpu.FragmentState{
			Module:     shaderModule,
			EntryPoint: "fs_main",
			Targets: []wgpu.ColorTargetState{{
				Format:    wgpu.TextureFormat_RGBA8Unorm,
				WriteMask: wgpu.ColorWriteMask_All,
			}},
		},
		Primitive: wgpu.PrimitiveState{
			Topology: wgpu.PrimitiveTopology_TriangleList,
		},
		Multisample: wgpu.MultisampleState{
			Count: 1,
			Mask:  0xFFFFFFFF,
		},
	})
	if err != nil {
		return fmt.Errorf("create render pipeline: %w", err)
	}

	s.texture, err = s.device.CreateTexture(&wgpu.TextureDescriptor{
		Label: "shader output",
		Size: wgpu.Extent3D{
			Width:              uint32(width),
			Height:             uint32(height),
			DepthOrArrayLayers: 1,
		},
		MipLevelCount: 1,
		SampleCount:   1,
		Dimension:     wgpu.TextureDimension_2D,
		Format:        wgpu.TextureFormat_RGBA8Unorm,
		Usage:         wgpu.TextureUsage_RenderAttachment | wgpu.TextureUsage_CopySrc,
	})
	if err != nil {
		return fmt.Errorf("create output texture: %w", err)
	}
	s.textureView, err = s.texture.CreateView(nil)
	if err != nil {
		return fmt.Errorf("create texture view: %w", err)
	}

	s.readback, err = s.device.CreateBuffer(&wgpu.BufferDescriptor{
		Label: "readback",
		Size:  uint64(alignedBytesPerRow(width) * height),
		Usage: wgpu.BufferUsage_CopyDst | wgpu.BufferUsage_MapRead,
	})
	if err != nil {
		return fmt.Errorf("create readback buffer: %w", err)
	}

	return nil
}

func (s *shaderSource) uniformBytes() []byte {
	buf := make([]byte, uniformsSize)
	binary.LittleEndian.PutUint32(buf[0:], math.Float32bits(float32(s.width)))
	binary.LittleEndian.PutUint32(buf[4:], math.Float32bits(float32(s.height)))
	binary.LittleEndian.PutUint32(buf[8:], math.Float32bits(float32(time.Since(s.start).Seconds())))
	return buf
}

func (s *shaderSource) NextFrame() (Frame, error) {
	if !s.prepared {
		return Frame{}, ErrNotReady
	}

	img, err := s.renderFrame()
	if err != nil {
		return Frame{}, err
	}
	return Frame{Image: img, Timestamp: time.Now()}, nil
}

func (s *shaderSource) renderFrame() (image.Image, error) {
	s.queue.WriteBuffer(s.uniformBuffer, 0, s.uniformBytes())

	encoder, err := s.device.CreateCommandEncoder(nil)
	if err != nil {
		return nil, fmt.Errorf("create encoder: %w", err)
	}
	defer encoder.Release()

	pass := encoder.BeginRenderPass(&wgpu.RenderPassDescriptor{
		Label: "shader pass",
		ColorAttachments: []wgpu.RenderPassColorAttachment{{
			View:       s.textureView,
			LoadOp:     wgpu.LoadOp_Clear,
			StoreOp:    wgpu.StoreOp_Store,
			ClearValue: wgpu.Color{A: 1},
		}},
	})
	pass.SetPipeline(s.pipeline)
	pass.SetBindGroup(0, s.bindGroup, nil)
	pass.Draw(3, 1, 0, 0)
	pass.End()
	pass.Release()

	bytesPerRow := alignedBytesPerRow(s.width)
	encoder.CopyTextureToBuffer(
		s.texture.AsImageCopy(),
		&wgpu.ImageCopyBuffer{
			Buffer: s.readback,
			Layout: wgpu.TextureDataLayout{
				BytesPerRow:  uint32(bytesPerRow),
				RowsPerImage: uint32(s.height),
			},
		},
		&wgpu.Extent3D{
			Width:              uint32(s.width),
			Height:             uint32(s.height),
			DepthOrArrayLayers: 1,
		},
	)

	cmd, err := encoder.Finish(nil)
	if err != nil {
		return nil, fmt.Errorf("finish encoder: %w", err)
	}
	defer cmd.Release()
	s.queue.Submit(cmd)

	var mapStatus wgpu.BufferMapAsyncStatus
	mapped := false
	err = s.readback.MapAsync(wgpu.MapMode_Read, 0, s.readback.GetSize(),
		func(status wgpu.BufferMapAsyncStatus) {
			mapStatus = status
			mapped = true
		})
	if err != nil {
		return nil, fmt.Errorf("map readback: %w", err)
	}

	// The poll wait is bounded by the frame budget; a stuck map skips the
	// frame rather than stalling the event loop.
	deadline := time.Now().Add(s.FrameDuration())
	for !mapped {
		s.device.Poll(true, nil)
		if time.Now().After(deadline) {
			return nil, fmt.Errorf("shader readback timed out")
		}
	}
	if mapStatus != wgpu.BufferMapAsyncStatus_Success {
		return nil, fmt.Errorf("shader readback failed: %v", mapStatus)
	}
	defer s.readback.Unmap()

	data := s.readback.GetMappedRange(0, uint(s.readback.GetSize()))

	// Strip the row alignment padding.
	img := image.NewRGBA(image.Rect(0, 0, s.width, s.height))
	rowBytes := s.width * 4
	for row := 0; row < s.height; row++ {
		src := data[row*bytesPerRow : row*bytesPerRow+rowBytes]
		copy(img.Pix[row*img.Stride:], src)
	}

	return img, nil
}

func (s *shaderSource) FrameDuration() time.Duration {
	fps := s.cfg.fpsLimit
	if fps < 1 {
		fps = 30
	}
	return time.Second / time.Duration(fps)
}

func (s *shaderSource) IsAnimated() bool { return true }

func (s *shaderSource) releaseGPU() {
	if s.readback != nil {
		s.readback.Release()
		s.readback = nil
	}
	if s.textureView != nil {
		s.textureView.Release()
		s.textureView = nil
	}
	if s.texture != nil {
		s.texture.Release()
		s.texture = nil
	}
	if s.bindGroup != nil {
		s.bindGroup.Release()
		s.bindGroup = nil
	}
	if s.uniformBuffer != nil {
		s.uniformBuffer.Release()
		s.uniformBuffer = nil
	}
	if s.pipeline != nil {
		s.pipeline.Release()
		s.pipeline = nil
	}
	s.queue = nil
	if s.device != nil {
		s.device.Release()
		s.device = nil
	}
	if s.instance != nil {
		s.instance.Release()
		s.instance = nil
	}
}

func (s *shaderSource) Release() {
	s.releaseGPU()
	s.prepared = false
}

func (s *shaderSource) Description() string {
	name := string(s.cfg.preset)
	if s.cfg.customPath != "" {
		name = s.cfg.customPath
	}
	return fmt.Sprintf("shader: %s (%d fps)", name, s.cfg.fpsLimit)
}
