package order

import (
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
)

// ErrInvalidSpec is returned when a job description cannot be turned into a runnable Spec.
var ErrInvalidSpec = errors.New("invalid job specification")

// Defaults carried over from the order intake contract.
const (
	DefaultCountry         = "xx"
	DefaultArea            = "e"
	DefaultCameraUsername  = "admin"
	DefaultCameraPort      = 554
	DefaultCameraTimeout   = 30.0
	DefaultCameraPath      = "/H.264"
	DefaultTimestampFormat = "%H:%M:%S"
	DefaultClipLength      = 30.0
	DefaultNumberOfClips   = 24
	MaxNumberOfClips       = 1000
	DefaultPointEnd        = 30.0
	MinCompressionBitrate  = 400
)

// Identity holds the order hierarchy used to derive bucket and order names.
type Identity struct {
	Country  string `json:"country"`
	Customer int    `json:"customer"`
	Contract int    `json:"contract"`
	Order    int    `json:"order"`
	Store    int    `json:"store"`
	Area     string `json:"area"`
	Camera   int    `json:"camera"`
}

// StoredSource describes a file that already exists locally or can be fetched before processing.
type StoredSource struct {
	Filename   string `json:"stored_filename"`
	AccessType string `json:"access_type,omitempty"`

	S3Bucket string `json:"s3_bucket_name,omitempty"`
	S3Key    string `json:"s3_url,omitempty"`

	AzureAccount   string `json:"azure_account_name,omitempty"`
	AzureKey       string `json:"azure_account_key,omitempty"`
	AzureContainer string `json:"azure_container_name,omitempty"`
	AzureBlob      string `json:"azure_blob_name,omitempty"`
}

// Camera holds the connection parameters of one RTSP camera.
type Camera struct {
	Address  string
	Port     int
	Username string
	Password string
	Path     string
	Timeout  time.Duration
}

// LiveSource holds the live-capture parameters of a job.
type LiveSource struct {
	Camera   Camera
	RunDate  string
	Timezone string
}

// Spec is the validated, immutable description of one processing order.
type Spec struct {
	JobID   string
	OrderPK int

	Identity  Identity
	UseStored bool
	Stored    StoredSource
	Live      LiveSource
	Window    ClockWindow

	SelectSample bool
	SamplingRate int

	AnalyzeMotion      bool
	AnalyzeFace        bool
	PerformCompression bool
	PerformTrimming    bool
	TrimCompressed     bool
	CompressionBitrate int

	Trim TrimStrategy

	Raw json.RawMessage
}

// rawSpec mirrors the JSON job description as delivered by the queue.
type rawSpec struct {
	JobID   string `json:"job_id"`
	OrderPK int    `json:"order_pk"`

	CountryCode string `json:"country_code"`
	CustomerID  int    `json:"customer_id"`
	ContractID  int    `json:"contract_id"`
	OrderID     int    `json:"order_id"`
	StoreID     int    `json:"store_id"`
	AreaCode    string `json:"area_code"`
	CameraID    int    `json:"camera_id"`

	UseStored bool          `json:"use_stored"`
	SubJSON   *StoredSource `json:"sub_json"`

	StartTime       string `json:"start_time"`
	EndTime         string `json:"end_time"`
	RunDate         string `json:"run_date"`
	Timezone        string `json:"timezone"`
	TimestampFormat string `json:"timestamp_format"`

	CameraAddress  string   `json:"camera_address"`
	CameraUsername string   `json:"camera_username"`
	CameraPassword string   `json:"camera_password"`
	CameraPort     int      `json:"camera_port"`
	CameraPath     string   `json:"camera_path"`
	CameraTimeout  *float64 `json:"camera_timeout"`

	SelectSample bool `json:"select_sample"`
	SamplingRate int  `json:"sampling_rate"`

	AnalyzeMotion      bool  `json:"analyze_motion"`
	AnalyzeFace        bool  `json:"analyze_face"`
	PerformCompression *bool `json:"perform_compression"`
	PerformTrimming    *bool `json:"perform_trimming"`
	TrimCompressed     *bool `json:"trim_compressed"`
	CompressionBitrate int   `json:"compression_bitrate"`

	TrimType          string   `json:"trim_type"`
	ClipLength        *float64 `json:"clip_length"`
	TrimFactor        string   `json:"trim_factor"`
	LastClip          bool     `json:"last_clip"`
	NumberOfClips     *int     `json:"number_of_clips"`
	EqualDistribution *bool    `json:"equal_distribution"`
	SampleStartTime   string   `json:"sample_start_time"`
	SampleEndTime     string   `json:"sample_end_time"`
	PointStartTime    *float64 `json:"point_start_time"`
	PointEndTime      *float64 `json:"point_end_time"`
}

// Parse decodes a JSON job description, applies defaults and validates it.
// A job without a job_id gets a fresh ULID so that it can still be tracked.
func Parse(data []byte) (Spec, error) {
	var raw rawSpec
	if err := json.Unmarshal(data, &raw); err != nil {
		return Spec{}, fmt.Errorf("%w: %v", ErrInvalidSpec, err)
	}

	spec := Spec{
		JobID:   strings.TrimSpace(raw.JobID),
		OrderPK: raw.OrderPK,
		Identity: Identity{
			Country:  strings.ToLower(orDefault(raw.CountryCode, DefaultCountry)),
			Customer: raw.CustomerID,
			Contract: raw.ContractID,
			Order:    raw.OrderID,
			Store:    raw.StoreID,
			Area:     orDefault(raw.AreaCode, DefaultArea),
			Camera:   raw.CameraID,
		},
		UseStored: raw.UseStored,
		Window: ClockWindow{
			Start:  raw.StartTime,
			End:    raw.EndTime,
			Format: orDefault(raw.TimestampFormat, DefaultTimestampFormat),
		},
		SelectSample:       raw.SelectSample,
		SamplingRate:       raw.SamplingRate,
		AnalyzeMotion:      raw.AnalyzeMotion,
		AnalyzeFace:        raw.AnalyzeFace,
		PerformCompression: boolOr(raw.PerformCompression, true),
		PerformTrimming:    boolOr(raw.PerformTrimming, true),
		TrimCompressed:     boolOr(raw.TrimCompressed, true),
		CompressionBitrate: raw.CompressionBitrate,
		Raw:                append(json.RawMessage(nil), data...),
	}
	if spec.JobID == "" {
		spec.JobID = NewJobID()
	}

	// Trimming the compressed file only makes sense when trimming runs at all.
	if !spec.PerformTrimming {
		spec.TrimCompressed = false
	}
	if spec.CompressionBitrate < MinCompressionBitrate {
		spec.CompressionBitrate = MinCompressionBitrate
	}

	if spec.UseStored {
		if raw.SubJSON == nil || strings.TrimSpace(raw.SubJSON.Filename) == "" {
			return Spec{}, fmt.Errorf("%w: use_stored requires sub_json.stored_filename", ErrInvalidSpec)
		}
		if !filepath.IsLocal(raw.SubJSON.Filename) {
			return Spec{}, fmt.Errorf("%w: stored_filename %q must be a relative name inside the downloads directory", ErrInvalidSpec, raw.SubJSON.Filename)
		}
		spec.Stored = *raw.SubJSON
	} else {
		timeout := DefaultCameraTimeout
		if raw.CameraTimeout != nil && *raw.CameraTimeout > 0 {
			timeout = *raw.CameraTimeout
		}
		spec.Live = LiveSource{
			Camera: Camera{
				Address:  raw.CameraAddress,
				Port:     intOr(raw.CameraPort, DefaultCameraPort),
				Username: orDefault(raw.CameraUsername, DefaultCameraUsername),
				Password: raw.CameraPassword,
				Path:     orDefault(raw.CameraPath, DefaultCameraPath),
				Timeout:  time.Duration(timeout * float64(time.Second)),
			},
			RunDate:  raw.RunDate,
			Timezone: orDefault(raw.Timezone, "UTC"),
		}
		if spec.Live.Camera.Address == "" {
			return Spec{}, fmt.Errorf("%w: live capture requires camera_address", ErrInvalidSpec)
		}
		if spec.Window.Start == "" || spec.Window.End == "" {
			return Spec{}, fmt.Errorf("%w: live capture requires start_time and end_time", ErrInvalidSpec)
		}
		if _, err := time.LoadLocation(spec.Live.Timezone); err != nil {
			return Spec{}, fmt.Errorf("%w: unknown timezone %q", ErrInvalidSpec, spec.Live.Timezone)
		}
	}

	if spec.SamplingRate < 0 || spec.SamplingRate > 100 {
		return Spec{}, fmt.Errorf("%w: sampling_rate must be within [0, 100], got %d", ErrInvalidSpec, spec.SamplingRate)
	}

	trim, err := parseTrim(raw, spec.Window)
	if err != nil {
		return Spec{}, err
	}
	spec.Trim = trim

	return spec, nil
}

// BucketName returns the object storage bucket for this order.
func (s Spec) BucketName() string {
	return s.Identity.BucketName()
}

// OrderName returns the order name for a run started at the given instant.
func (s Spec) OrderName(at time.Time) string {
	return s.Identity.OrderName(at)
}

// VideoType returns the three letter code that marks which stages the published video went through.
func (s Spec) VideoType() string {
	return VideoType(s.PerformCompression, s.PerformTrimming, s.TrimCompressed)
}

// Payload returns the job description with its job_id filled in, so that a
// generated id survives the trip through the queue.
func (s Spec) Payload() ([]byte, error) {
	fields := map[string]json.RawMessage{}
	if len(s.Raw) > 0 {
		if err := json.Unmarshal(s.Raw, &fields); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidSpec, err)
		}
	}
	id, err := json.Marshal(s.JobID)
	if err != nil {
		return nil, err
	}
	fields["job_id"] = id
	return json.Marshal(fields)
}

// NewJobID returns a new lexically sortable job identifier.
func NewJobID() string {
	return ulid.Make().String()
}

func orDefault(v, def string) string {
	if strings.TrimSpace(v) == "" {
		return def
	}
	return v
}

func boolOr(v *bool, def bool) bool {
	if v == nil {
		return def
	}
	return *v
}

func intOr(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}

func floatOr(v *float64, def float64) float64 {
	if v == nil {
		return def
	}
	return *v
}
