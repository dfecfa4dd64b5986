package lexapi

import (
	"encoding/base64"
	"encoding/json"
	"strings"

	"lexion/cmd/internal/auth/session"
)

// Profile is the account as returned by /usuarios/me.
type Profile struct {
	ID        int64  `json:"id"`
	UserID    int64  `json:"usuario_id"`
	FullName  string `json:"nombre_completo"`
	Email     string `json:"email"`
	Phone     string `json:"telefono"`
	Role      string `json:"rol"`
	Avatar    string `json:"foto_perfil"`
	CreatedAt string `json:"fecha_creacion"`
}

// Identity projects the profile onto the session identity.
func (p Profile) Identity() session.Identity {
	id := p.ID
	if id == 0 {
		id = p.UserID
	}
	return session.Identity{
		ID:          id,
		DisplayName: p.FullName,
		Email:       p.Email,
		Avatar:      decodeImage(p.Avatar),
	}
}

// decodeImage accepts raw base64 or a data URL. Anything else yields nil.
func decodeImage(s string) []byte {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	if strings.HasPrefix(s, "data:") {
		i := strings.Index(s, ",")
		if i < 0 {
			return nil
		}
		s = s[i+1:]
	}
	b, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil
	}
	return b
}

type loginWire struct {
	AccessToken string `json:"access_token"`
	UserID      int64  `json:"usuario_id"`
	FullName    string `json:"nombre_completo"`
	Email       string `json:"email"`
}

type faceWire struct {
	Matched     bool     `json:"coincide"`
	Score       *float64 `json:"score"`
	Name        string   `json:"nombre"`
	UserID      int64    `json:"usuario_id"`
	Email       string   `json:"email"`
	AccessToken string   `json:"access_token"`
}

type qrWire struct {
	AccessToken string  `json:"access_token"`
	User        Profile `json:"usuario"`
}

type messageWire struct {
	Mensaje string `json:"mensaje"`
}

type verifyWire struct {
	OK     bool   `json:"ok"`
	Detail string `json:"detail"`
}

// ProfileUpdate is the editable part of a profile.
type ProfileUpdate struct {
	FullName string
	Phone    string
	Email    string
}

// AnalyzeRequest is one lexical analysis upload.
type AnalyzeRequest struct {
	Language string // "es", "en", ...
	FileName string
	Content  []byte
	// EmailPDF asks the backend to mail the PDF report to Email.
	EmailPDF bool
	Email    string
}

// Analysis is the lexical analysis result.
type Analysis struct {
	Language         string                     `json:"idioma"`
	TotalWords       int                        `json:"total_palabras"`
	Nouns            Words                      `json:"sustantivos"`
	Verbs            Words                      `json:"verbos"`
	Adjectives       Words                      `json:"adjetivos"`
	PersonalPronouns Words                      `json:"pronombres_personales"`
	PersonNames      Words                      `json:"nombres_personas"`
	OtherCategories  map[string]json.RawMessage `json:"otras_categorias,omitempty"`
	Email            string                     `json:"email,omitempty"`
	EmailStatus      string                     `json:"email_status,omitempty"`
}

// Words is a word list that tolerates the backend sending a non-list.
type Words []string

func (w *Words) UnmarshalJSON(b []byte) error {
	var list []string
	if err := json.Unmarshal(b, &list); err == nil {
		*w = list
		return nil
	}
	var anyList []any
	if err := json.Unmarshal(b, &anyList); err == nil {
		out := make([]string, 0, len(anyList))
		for _, v := range anyList {
			if s, ok := v.(string); ok {
				out = append(out, s)
			}
		}
		*w = out
		return nil
	}
	*w = nil
	return nil
}

type cardWire struct {
	Email     string `json:"email"`
	Name      string `json:"nombre_usuario"`
	PDFBase64 string `json:"pdf_base64"`
}
