package source

import (
	"bytes"
	"context"
	"fmt"
	"math"
	"strconv"
	"time"

	"github.com/gaspardpetit/motionstream/internal/frame"
)

// Sensor geometry of the depth and body index streams.
const (
	DepthWidth  = 512
	DepthHeight = 424

	// NoBody marks a body index pixel that belongs to no tracked body.
	NoBody byte = 0xff
)

// JointTypes lists the tracked joints in sensor order.
var JointTypes = []string{
	"SpineBase", "SpineMid", "Neck", "Head",
	"ShoulderLeft", "ElbowLeft", "WristLeft", "HandLeft",
	"ShoulderRight", "ElbowRight", "WristRight", "HandRight",
	"HipLeft", "KneeLeft", "AnkleLeft", "FootLeft",
	"HipRight", "KneeRight", "AnkleRight", "FootRight",
	"SpineShoulder", "HandTipLeft", "ThumbLeft", "HandTipRight", "ThumbRight",
}

// FrameDescription describes the pixel grid of a stream.
type FrameDescription struct {
	Width                 int     `json:"width"`
	Height                int     `json:"height"`
	HorizontalFieldOfView float32 `json:"horizontalFieldOfView"`
	VerticalFieldOfView   float32 `json:"verticalFieldOfView"`
	LengthInPixels        int     `json:"lengthInPixels"`
	BytesPerPixel         int     `json:"bytesPerPixel"`
}

// CameraPoint is a position in meters relative to the sensor.
type CameraPoint struct {
	X float32 `json:"x"`
	Y float32 `json:"y"`
	Z float32 `json:"z"`
}

// DepthPoint is a position on the depth image.
type DepthPoint struct {
	X float32 `json:"x"`
	Y float32 `json:"y"`
}

// Joint is one tracked joint.
type Joint struct {
	JointType      string      `json:"jointType"`
	Position       CameraPoint `json:"position"`
	TrackingState  string      `json:"trackingState"`
	ScreenPosition DepthPoint  `json:"screenPosition"`
}

// Body is one tracked skeleton.
type Body struct {
	TrackingID        uint64           `json:"trackingId"`
	IsTracked         bool             `json:"isTracked"`
	IsRestricted      bool             `json:"isRestricted"`
	Lean              DepthPoint       `json:"lean"`
	LeanTrackingState string           `json:"leanTrackingState"`
	HandLeftState     string           `json:"handLeftState"`
	HandRightState    string           `json:"handRightState"`
	Joints            map[string]Joint `json:"joints"`
}

// BodyFrameData is the content of a motion frame.
type BodyFrameData struct {
	ScreenDescription FrameDescription `json:"screenDescription"`
	Bodies            []Body           `json:"bodies"`
}

// Pixels marshals as a JSON array of numbers rather than base64.
type Pixels []byte

// MarshalJSON implements json.Marshaler.
func (p Pixels) MarshalJSON() ([]byte, error) {
	if p == nil {
		return []byte("null"), nil
	}
	var b bytes.Buffer
	b.Grow(len(p)*4 + 2)
	b.WriteByte('[')
	for i, v := range p {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(strconv.Itoa(int(v)))
	}
	b.WriteByte(']')
	return b.Bytes(), nil
}

// BodyIndexFrameData is the content of a bodyIndex frame.
type BodyIndexFrameData struct {
	Description FrameDescription `json:"description"`
	Pixels      Pixels           `json:"pixels"`
}

// Skeleton publishes synthetic motion and bodyIndex frames. Every tick
// produces one motion frame followed by one bodyIndex frame when IndexEvery
// divides the tick number.
type Skeleton struct {
	Interval   time.Duration
	Bodies     int
	IndexEvery int
}

// NewSkeleton returns a producer emitting one tracked body per interval.
func NewSkeleton(interval time.Duration) *Skeleton {
	return &Skeleton{Interval: interval, Bodies: 1, IndexEvery: 1}
}

func (s *Skeleton) Name() string { return "skeleton" }

// Run publishes frames until ctx ends.
func (s *Skeleton) Run(ctx context.Context, pub Publisher) error {
	if s.Interval <= 0 {
		return fmt.Errorf("skeleton: interval must be positive")
	}
	return tick(ctx, s.Interval, func(n uint64) error {
		frames, err := s.Frames(n)
		if err != nil {
			return err
		}
		for _, f := range frames {
			if err := pub.Publish(f); err != nil {
				return fmt.Errorf("skeleton publish: %w", err)
			}
		}
		return nil
	})
}

// Frames builds the encoded frames for tick n.
func (s *Skeleton) Frames(n uint64) ([]frame.Frame, error) {
	t := float64(n) * s.Interval.Seconds()
	bodies := make([]Body, 0, s.Bodies)
	for i := range s.Bodies {
		bodies = append(bodies, pose(i, t))
	}
	motion, err := frame.Encode(frame.TopicMotion, BodyFrameData{
		ScreenDescription: depthDescription(),
		Bodies:            bodies,
	})
	if err != nil {
		return nil, err
	}
	out := []frame.Frame{motion}
	if s.IndexEvery > 0 && n%uint64(s.IndexEvery) == 0 {
		idx, err := frame.Encode(frame.TopicBodyIndex, BodyIndexFrameData{
			Description: depthDescription(),
			Pixels:      bodyIndex(bodies),
		})
		if err != nil {
			return nil, err
		}
		out = append(out, idx)
	}
	return out, nil
}

func depthDescription() FrameDescription {
	return FrameDescription{
		Width:                 DepthWidth,
		Height:                DepthHeight,
		HorizontalFieldOfView: 70.6,
		VerticalFieldOfView:   60,
		LengthInPixels:        DepthWidth * DepthHeight,
		BytesPerPixel:         1,
	}
}

// rest holds joint offsets in meters from the spine base of a standing body.
var rest = map[string]CameraPoint{
	"SpineBase":     {0, 0, 0},
	"SpineMid":      {0, 0.30, 0},
	"SpineShoulder": {0, 0.52, 0},
	"Neck":          {0, 0.60, 0},
	"Head":          {0, 0.75, 0},
	"ShoulderLeft":  {-0.18, 0.50, 0},
	"ElbowLeft":     {-0.22, 0.25, 0},
	"WristLeft":     {-0.24, 0.02, 0},
	"HandLeft":      {-0.25, -0.05, 0},
	"HandTipLeft":   {-0.25, -0.13, 0},
	"ThumbLeft":     {-0.21, -0.07, 0},
	"ShoulderRight": {0.18, 0.50, 0},
	"ElbowRight":    {0.22, 0.25, 0},
	"WristRight":    {0.24, 0.02, 0},
	"HandRight":     {0.25, -0.05, 0},
	"HandTipRight":  {0.25, -0.13, 0},
	"ThumbRight":    {0.21, -0.07, 0},
	"HipLeft":       {-0.09, -0.03, 0},
	"KneeLeft":      {-0.10, -0.45, 0},
	"AnkleLeft":     {-0.10, -0.85, 0},
	"FootLeft":      {-0.10, -0.90, 0.08},
	"HipRight":      {0.09, -0.03, 0},
	"KneeRight":     {0.10, -0.45, 0},
	"AnkleRight":    {0.10, -0.85, 0},
	"FootRight":     {0.10, -0.90, 0.08},
}

// pose animates body i at time t: the body stands 2.5m away, sways side to
// side and waves the right arm.
func pose(i int, t float64) Body {
	base := CameraPoint{
		X: float32(-0.6 + 0.8*float64(i) + 0.2*math.Sin(t*0.5+float64(i))),
		Y: 0,
		Z: 2.5,
	}
	wave := float32(0.15 * math.Sin(t*3))
	joints := make(map[string]Joint, len(JointTypes))
	for _, name := range JointTypes {
		off := rest[name]
		switch name {
		case "WristRight", "HandRight", "HandTipRight", "ThumbRight":
			off.Y += 0.55
			off.X += wave
		case "ElbowRight":
			off.Y += 0.2
			off.X += wave / 2
		}
		p := CameraPoint{X: base.X + off.X, Y: base.Y + off.Y, Z: base.Z + off.Z}
		joints[name] = Joint{
			JointType:      name,
			Position:       p,
			TrackingState:  "Tracked",
			ScreenPosition: project(p),
		}
	}
	hand := "Open"
	if wave < 0 {
		hand = "Closed"
	}
	return Body{
		TrackingID:        72057594037927936 + uint64(i),
		IsTracked:         true,
		Lean:              DepthPoint{X: float32(0.1 * math.Sin(t*0.5)), Y: 0},
		LeanTrackingState: "Tracked",
		HandLeftState:     "Open",
		HandRightState:    hand,
		Joints:            joints,
	}
}

// project maps a camera point onto the depth image with a pinhole model.
func project(p CameraPoint) DepthPoint {
	const focal = 365.0
	if p.Z <= 0 {
		return DepthPoint{}
	}
	return DepthPoint{
		X: float32(DepthWidth/2 + focal*float64(p.X)/float64(p.Z)),
		Y: float32(DepthHeight/2 - focal*float64(p.Y)/float64(p.Z)),
	}
}

// bodyIndex paints each body's bounding box with its index.
func bodyIndex(bodies []Body) Pixels {
	px := bytes.Repeat([]byte{NoBody}, DepthWidth*DepthHeight)
	for i, b := range bodies {
		minX, minY := math.MaxFloat64, math.MaxFloat64
		maxX, maxY := -math.MaxFloat64, -math.MaxFloat64
		for _, j := range b.Joints {
			x, y := float64(j.ScreenPosition.X), float64(j.ScreenPosition.Y)
			minX, maxX = math.Min(minX, x), math.Max(maxX, x)
			minY, maxY = math.Min(minY, y), math.Max(maxY, y)
		}
		x0, x1 := clamp(int(minX), DepthWidth), clamp(int(maxX), DepthWidth)
		y0, y1 := clamp(int(minY), DepthHeight), clamp(int(maxY), DepthHeight)
		for y := y0; y < y1; y++ {
			row := px[y*DepthWidth : (y+1)*DepthWidth]
			for x := x0; x < x1; x++ {
				row[x] = byte(i)
			}
		}
	}
	return px
}

func clamp(v, n int) int {
	return max(0, min(v, n))
}
