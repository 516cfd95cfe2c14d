package session

import (
	"encoding/json"
	"fmt"
	"reflect"
	"time"

	"github.com/fxamacker/cbor/v2"

	"github.com/hupe1980/agentcontext/core"
	"github.com/hupe1980/agentcontext/resource"
	"github.com/hupe1980/agentcontext/tool"
)

// formatVersion is written into every encoded state.
const formatVersion = 1

// Codec converts states to bytes and back.
type Codec interface {
	Name() string
	Encode(s State) ([]byte, error)
	Decode(data []byte) (State, error)
}

// JSONCodec encodes states as JSON.
type JSONCodec struct{}

func (JSONCodec) Name() string { return "json" }

// Encode implements Codec.
func (JSONCodec) Encode(s State) ([]byte, error) {
	dto, err := toDTO(s)
	if err != nil {
		return nil, err
	}
	return json.Marshal(dto)
}

// Decode implements Codec.
func (JSONCodec) Decode(data []byte) (State, error) {
	var dto stateDTO
	if err := json.Unmarshal(data, &dto); err != nil {
		return State{}, fmt.Errorf("decode json session: %w", err)
	}
	return fromDTO(dto)
}

// encMode uses Core Deterministic Encoding so equal states produce equal
// bytes. Times keep nanosecond precision.
var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	var err error

	encOptions := cbor.CoreDetEncOptions()
	encOptions.Time = cbor.TimeRFC3339Nano
	encMode, err = encOptions.EncMode()
	if err != nil {
		panic("session: CBOR encoder initialization failed: " + err.Error())
	}

	decMode, err = cbor.DecOptions{
		// Structured values decode into map[string]any like they do with
		// encoding/json.
		DefaultMapType: reflect.TypeOf(map[string]any(nil)),
	}.DecMode()
	if err != nil {
		panic("session: CBOR decoder initialization failed: " + err.Error())
	}
}

// CBORCodec encodes states as deterministic CBOR.
type CBORCodec struct{}

func (CBORCodec) Name() string { return "cbor" }

// Encode implements Codec.
func (CBORCodec) Encode(s State) ([]byte, error) {
	dto, err := toDTO(s)
	if err != nil {
		return nil, err
	}
	return encMode.Marshal(dto)
}

// Decode implements Codec.
func (CBORCodec) Decode(data []byte) (State, error) {
	var dto stateDTO
	if err := decMode.Unmarshal(data, &dto); err != nil {
		return State{}, fmt.Errorf("decode cbor session: %w", err)
	}
	return fromDTO(dto)
}

// Optional values are pointers with omitempty: nil means absent, a non-nil
// pointer to an empty value means present and empty.
type stateDTO struct {
	Version           int               `json:"version"`
	ID                string            `json:"id"`
	Title             *string           `json:"title,omitempty"`
	CreatedAt         time.Time         `json:"created_at"`
	UpdatedAt         time.Time         `json:"updated_at"`
	History           []messageDTO      `json:"history"`
	Resources         []resourceDTO     `json:"resources,omitempty"`
	DefaultPreference string            `json:"default_preference"`
	Preferences       map[string]string `json:"preferences,omitempty"`
	Values            map[string]any    `json:"values,omitempty"`
}

type messageDTO struct {
	ID        string    `json:"id"`
	Role      string    `json:"role"`
	Model     *string   `json:"model,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	Parts     []partDTO `json:"parts"`
}

const (
	kindText     = "text"
	kindBlob     = "blob"
	kindData     = "data"
	kindCall     = "function_call"
	kindResponse = "function_response"
)

type partDTO struct {
	Kind     string                 `json:"kind"`
	Text     string                 `json:"text,omitempty"`
	MimeType string                 `json:"mime_type,omitempty"`
	Data     []byte                 `json:"data,omitempty"`
	Value    any                    `json:"value,omitempty"`
	Call     *core.FunctionCall     `json:"call,omitempty"`
	Response *core.FunctionResponse `json:"response,omitempty"`
}

type resourceDTO struct {
	ID          string    `json:"id"`
	Size        int64     `json:"size"`
	ModTime     time.Time `json:"mod_time"`
	Fingerprint *string   `json:"fingerprint,omitempty"`
	TrackedAt   time.Time `json:"tracked_at"`
}

func toDTO(s State) (stateDTO, error) {
	dto := stateDTO{
		Version:           formatVersion,
		ID:                s.ID,
		Title:             s.Title.Ptr(),
		CreatedAt:         s.CreatedAt,
		UpdatedAt:         s.UpdatedAt,
		History:           make([]messageDTO, 0, len(s.History)),
		DefaultPreference: s.DefaultPreference.String(),
		Values:            s.Values,
	}
	for _, m := range s.History {
		md, err := messageToDTO(m)
		if err != nil {
			return stateDTO{}, err
		}
		dto.History = append(dto.History, md)
	}
	for _, r := range s.Resources {
		dto.Resources = append(dto.Resources, resourceDTO{
			ID:          r.ID,
			Size:        r.Context.Size,
			ModTime:     r.Context.ModTime,
			Fingerprint: r.Context.Fingerprint.Ptr(),
			TrackedAt:   r.TrackedAt,
		})
	}
	if len(s.Preferences) > 0 {
		dto.Preferences = make(map[string]string, len(s.Preferences))
		for k, v := range s.Preferences {
			dto.Preferences[k] = v.String()
		}
	}
	return dto, nil
}

func messageToDTO(m core.Message) (messageDTO, error) {
	md := messageDTO{
		ID:        m.ID,
		Role:      string(m.Role),
		Model:     m.Model.Ptr(),
		CreatedAt: m.CreatedAt,
		Parts:     make([]partDTO, 0, len(m.Parts)),
	}
	for _, p := range m.Parts {
		switch part := p.(type) {
		case core.TextPart:
			md.Parts = append(md.Parts, partDTO{Kind: kindText, Text: part.Text})
		case core.BlobPart:
			md.Parts = append(md.Parts, partDTO{Kind: kindBlob, MimeType: part.MimeType, Data: part.Data})
		case core.DataPart:
			md.Parts = append(md.Parts, partDTO{Kind: kindData, Value: part.Value})
		case core.FunctionCallPart:
			fc := part.FunctionCall
			md.Parts = append(md.Parts, partDTO{Kind: kindCall, Call: &fc})
		case core.FunctionResponsePart:
			fr := part.FunctionResponse
			md.Parts = append(md.Parts, partDTO{Kind: kindResponse, Response: &fr})
		default:
			return messageDTO{}, fmt.Errorf("encode message %s: unsupported part %T", m.ID, p)
		}
	}
	return md, nil
}

func fromDTO(dto stateDTO) (State, error) {
	if dto.Version > formatVersion {
		return State{}, fmt.Errorf("session format version %d is newer than supported %d", dto.Version, formatVersion)
	}
	def, err := tool.ParsePreference(dto.DefaultPreference)
	if err != nil {
		return State{}, err
	}
	s := State{
		ID:                dto.ID,
		Title:             core.FromPtr(dto.Title),
		CreatedAt:         dto.CreatedAt,
		UpdatedAt:         dto.UpdatedAt,
		History:           make([]core.Message, 0, len(dto.History)),
		DefaultPreference: def,
		Values:            dto.Values,
	}
	for _, md := range dto.History {
		m, err := messageFromDTO(md)
		if err != nil {
			return State{}, err
		}
		s.History = append(s.History, m)
	}
	for _, rd := range dto.Resources {
		s.Resources = append(s.Resources, resource.Record{
			ID: rd.ID,
			Context: resource.Snapshot{
				Size:        rd.Size,
				ModTime:     rd.ModTime,
				Fingerprint: core.FromPtr(rd.Fingerprint),
			},
			TrackedAt: rd.TrackedAt,
		})
	}
	if len(dto.Preferences) > 0 {
		s.Preferences = make(map[string]tool.Preference, len(dto.Preferences))
		for k, v := range dto.Preferences {
			p, err := tool.ParsePreference(v)
			if err != nil {
				return State{}, fmt.Errorf("preference for %q: %w", k, err)
			}
			s.Preferences[k] = p
		}
	}
	return s, nil
}

func messageFromDTO(md messageDTO) (core.Message, error) {
	m := core.Message{
		ID:        md.ID,
		Role:      core.Role(md.Role),
		Model:     core.FromPtr(md.Model),
		CreatedAt: md.CreatedAt,
		Parts:     make([]core.Part, 0, len(md.Parts)),
	}
	for _, pd := range md.Parts {
		switch pd.Kind {
		case kindText:
			m.Parts = append(m.Parts, core.TextPart{Text: pd.Text})
		case kindBlob:
			m.Parts = append(m.Parts, core.BlobPart{MimeType: pd.MimeType, Data: pd.Data})
		case kindData:
			m.Parts = append(m.Parts, core.DataPart{Value: pd.Value})
		case kindCall:
			if pd.Call == nil {
				return core.Message{}, fmt.Errorf("decode message %s: function call part without call", md.ID)
			}
			m.Parts = append(m.Parts, core.FunctionCallPart{FunctionCall: *pd.Call})
		case kindResponse:
			if pd.Response == nil {
				return core.Message{}, fmt.Errorf("decode message %s: function response part without response", md.ID)
			}
			m.Parts = append(m.Parts, core.FunctionResponsePart{FunctionResponse: *pd.Response})
		default:
			return core.Message{}, fmt.Errorf("decode message %s: unknown part kind %q", md.ID, pd.Kind)
		}
	}
	return m, nil
}
