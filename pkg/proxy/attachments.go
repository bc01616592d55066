package proxy

import (
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/clawbowl/clawbowl/pkg/log"
)

const inboundDir = "media/inbound"

// extension by data-URL MIME prefix; anything else falls back to jpg.
var imageExts = map[string]string{
	"data:image/jpeg": "jpg",
	"data:image/jpg":  "jpg",
	"data:image/png":  "png",
	"data:image/gif":  "gif",
	"data:image/webp": "webp",
}

// materializeAttachments writes the attachments of the last user message
// into workspace/media/inbound and rebuilds that message as plain text:
// one reference line per attachment, then the original text. The gateway
// is text-only; the agent reaches the payloads through the workspace.
func materializeAttachments(req *ChatRequest, workspaceDir string) {
	idx := -1
	for i := len(req.Messages) - 1; i >= 0; i-- {
		if req.Messages[i].Role == "user" {
			idx = i
			break
		}
	}
	if idx < 0 || req.Messages[idx].Content.Parts == nil {
		return
	}

	logger := log.WithComponent("proxy")
	dir := filepath.Join(workspaceDir, filepath.FromSlash(inboundDir))

	var lines []string
	var texts []string
	for _, part := range req.Messages[idx].Content.Parts {
		switch part.Type {
		case "text":
			if part.Text != "" {
				texts = append(texts, part.Text)
			}
		case "image_url":
			if part.ImageURL == nil || !strings.HasPrefix(part.ImageURL.URL, "data:") {
				continue
			}
			name, payload, err := decodeImageDataURL(part.ImageURL.URL)
			if err != nil {
				logger.Warn().Err(err).Msg("Dropping undecodable image attachment")
				continue
			}
			if err := writeAttachment(dir, name, payload); err != nil {
				logger.Warn().Err(err).Str("name", name).Msg("Failed to write image attachment")
				continue
			}
			lines = append(lines, attachmentLine(name))
		case "file":
			payload, err := base64.StdEncoding.DecodeString(part.Data)
			if err != nil {
				logger.Warn().Err(err).Str("filename", part.Filename).Msg("Dropping undecodable file attachment")
				continue
			}
			name := sanitizeFilename(part.Filename)
			if err := writeAttachment(dir, name, payload); err != nil {
				logger.Warn().Err(err).Str("name", name).Msg("Failed to write file attachment")
				continue
			}
			lines = append(lines, attachmentLine(name))
		}
	}

	text := strings.Join(texts, "\n")
	content := text
	if len(lines) > 0 {
		content = strings.Join(lines, "\n")
		if text != "" {
			content += "\n\n" + text
		}
	}
	req.Messages[idx].Content = MessageContent{Text: content}
}

func attachmentLine(name string) string {
	return fmt.Sprintf("[用户发送了文件: %s/%s]", inboundDir, name)
}

// decodeImageDataURL sniffs the image extension from the MIME prefix,
// decodes the base64 payload, and assigns a fresh random filename.
func decodeImageDataURL(url string) (string, []byte, error) {
	mime, b64, ok := strings.Cut(url, ";base64,")
	if !ok {
		return "", nil, fmt.Errorf("not a base64 data url")
	}
	ext, ok := imageExts[mime]
	if !ok {
		ext = "jpg"
	}
	payload, err := base64.StdEncoding.DecodeString(b64)
	if err != nil {
		return "", nil, fmt.Errorf("decode image payload: %w", err)
	}
	return randomName() + "." + ext, payload, nil
}

// randomName returns 12 hex characters from 6 random bytes.
func randomName() string {
	buf := make([]byte, 6)
	if _, err := rand.Read(buf); err != nil {
		return fmt.Sprintf("%012x", time.Now().UnixNano()&0xffffffffffff)
	}
	return hex.EncodeToString(buf)
}

// sanitizeFilename neutralizes path separators in caller-supplied names.
func sanitizeFilename(name string) string {
	name = strings.ReplaceAll(name, "/", "_")
	name = strings.ReplaceAll(name, "\\", "_")
	if name == "" || name == "." || name == ".." {
		name = randomName() + ".bin"
	}
	return name
}

func writeAttachment(dir, name string, payload []byte) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(dir, name), payload, 0o644)
}
