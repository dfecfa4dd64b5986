package lexapi

import (
	"context"
	"encoding/base64"
	"net/http"
	"path/filepath"
	"strings"

	"lexion/cmd/internal/auth/autherr"
)

// Analyze uploads a text file for lexical analysis.
func (c *Client) Analyze(ctx context.Context, credential string, r AnalyzeRequest) (Analysis, error) {
	const op = "lexapi.Analyze"
	if len(r.Content) == 0 {
		return Analysis{}, autherr.Local(op, "Choose a .txt file to analyze.")
	}
	if r.EmailPDF && strings.TrimSpace(r.Email) == "" {
		return Analysis{}, autherr.Local(op, "An email address is required to send the PDF report.")
	}
	lang := r.Language
	if lang == "" {
		lang = "es"
	}
	name := filepath.Base(r.FileName)
	if name == "." || name == "/" || name == "" {
		name = "texto.txt"
	}

	fields := map[string]string{"idioma": lang}
	if r.EmailPDF {
		fields["enviar_pdf"] = "sí"
		fields["correo"] = r.Email
	}
	req, err := multipartRequest(op, http.MethodPost, "/analizador/procesar", credential, fields,
		filePart{field: "archivo", filename: name, data: r.Content})
	if err != nil {
		return Analysis{}, err
	}
	var a Analysis
	err = c.do(ctx, req, &a)
	return a, err
}

// SendCredentialCard mails the rendered credential card PDF to email.
func (c *Client) SendCredentialCard(ctx context.Context, credential, email, name string, pdf []byte) error {
	const op = "lexapi.SendCredentialCard"
	if len(pdf) == 0 {
		return autherr.Local(op, "The credential PDF is empty.")
	}
	if strings.TrimSpace(email) == "" {
		return autherr.Local(op, "An email address is required.")
	}
	req, err := jsonRequest(op, http.MethodPost, "/credencial/enviar", credential, cardWire{
		Email:     email,
		Name:      name,
		PDFBase64: base64.StdEncoding.EncodeToString(pdf),
	})
	if err != nil {
		return err
	}
	return c.do(ctx, req, nil)
}
