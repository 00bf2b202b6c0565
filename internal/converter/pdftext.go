package converter

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"

	"paperreader/internal/device"
	"paperreader/internal/domain"
)

// TextEngine reads text operators straight from page content streams. It
// needs no model, so it is the variant of last resort for born-digital PDFs.
type TextEngine struct {
	logger domain.Logger
}

// NewTextLoader returns the loader for the text variant.
func NewTextLoader(logger domain.Logger) Loader {
	return func(ctx context.Context, dev device.Kind) (Engine, error) {
		return &TextEngine{logger: logger}, nil
	}
}

func (e *TextEngine) Convert(ctx context.Context, sourcePath string) (string, error) {
	f, err := os.Open(sourcePath)
	if err != nil {
		return "", err
	}
	defer f.Close()

	conf := model.NewDefaultConfiguration()
	conf.ValidationMode = model.ValidationRelaxed
	pdfCtx, err := api.ReadValidateAndOptimize(f, conf)
	if err != nil {
		return "", fmt.Errorf("pdfcpu read: %w", err)
	}

	var pages []string
	for pageNr := 1; pageNr <= pdfCtx.PageCount; pageNr++ {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		r, err := pdfcpu.ExtractPageContent(pdfCtx, pageNr)
		if err != nil {
			e.logger.Warn("Failed to read page content", "page", pageNr, "error", err)
			continue
		}
		if r == nil {
			continue
		}
		data, err := io.ReadAll(r)
		if err != nil {
			e.logger.Warn("Failed to read page content", "page", pageNr, "error", err)
			continue
		}
		if md := pageMarkdown(textFromContentStream(data)); md != "" {
			pages = append(pages, md)
		}
	}
	return strings.Join(pages, "\n\n"), nil
}

// textFromContentStream walks content stream tokens and collects the
// operands of text-showing operators. Each BT/ET block becomes a paragraph.
func textFromContentStream(data []byte) string {
	var (
		out      strings.Builder
		line     strings.Builder
		operands []string
		inArray  bool
		arrayBuf strings.Builder
	)

	flushLine := func(sep string) {
		text := strings.TrimSpace(line.String())
		line.Reset()
		if text == "" {
			return
		}
		if out.Len() > 0 {
			out.WriteString(sep)
		}
		out.WriteString(text)
	}

	for i := 0; i < len(data); {
		c := data[i]
		switch {
		case c == '(':
			s, next := readLiteral(data, i)
			i = next
			if inArray {
				arrayBuf.WriteString(s)
			} else {
				operands = append(operands, s)
			}
		case c == '<' && i+1 < len(data) && data[i+1] != '<':
			s, next := readHex(data, i)
			i = next
			if inArray {
				arrayBuf.WriteString(s)
			} else {
				operands = append(operands, s)
			}
		case c == '[':
			inArray = true
			arrayBuf.Reset()
			i++
		case c == ']':
			inArray = false
			operands = append(operands, arrayBuf.String())
			i++
		case c == '%':
			for i < len(data) && data[i] != '\n' && data[i] != '\r' {
				i++
			}
		case c == '/':
			// names are operands, never text
			i++
			for i < len(data) && !isTokenEnd(data[i]) {
				i++
			}
		case isDelimiterOrSpace(c):
			i++
		default:
			start := i
			for i < len(data) && !isTokenEnd(data[i]) {
				i++
			}
			if i == start {
				i++
				continue
			}
			tok := string(data[start:i])
			if inArray {
				// large negative kerning inside TJ reads as a word gap
				if strings.HasPrefix(tok, "-") && len(tok) > 3 {
					arrayBuf.WriteByte(' ')
				}
				continue
			}
			switch tok {
			case "Tj", "TJ":
				for _, s := range operands {
					line.WriteString(s)
				}
			case "'", "\"":
				// next line, then show
				prev := strings.TrimRight(line.String(), " ")
				line.Reset()
				if prev != "" {
					line.WriteString(prev)
					line.WriteByte('\n')
				}
				if n := len(operands); n > 0 {
					line.WriteString(operands[n-1])
				}
			case "Td", "TD", "T*", "Tm":
				if line.Len() > 0 {
					line.WriteByte(' ')
				}
			case "ET":
				flushLine("\n\n")
			}
			if isOperator(tok) {
				operands = operands[:0]
			}
		}
	}
	flushLine("\n\n")
	return out.String()
}

func isDelimiterOrSpace(c byte) bool {
	switch c {
	case ' ', '\t', '\n', '\r', '\f', 0, '/', '>', '{', '}':
		return true
	}
	return false
}

func isTokenEnd(c byte) bool {
	return isDelimiterOrSpace(c) || c == '(' || c == '[' || c == ']' || c == '<'
}

// isOperator reports whether tok is an operator rather than a number or name.
func isOperator(tok string) bool {
	if tok == "" {
		return false
	}
	c := tok[0]
	return !(c >= '0' && c <= '9') && c != '-' && c != '+' && c != '.'
}

// readLiteral decodes a (…) string starting at data[i], honoring nesting and escapes.
func readLiteral(data []byte, i int) (string, int) {
	var sb strings.Builder
	depth := 0
	for i < len(data) {
		c := data[i]
		switch {
		case c == '\\' && i+1 < len(data):
			i++
			switch e := data[i]; e {
			case 'n':
				sb.WriteByte('\n')
			case 'r':
				sb.WriteByte('\r')
			case 't':
				sb.WriteByte('\t')
			case 'b', 'f':
			case '\r', '\n':
			default:
				if e >= '0' && e <= '7' {
					val := 0
					for k := 0; k < 3 && i < len(data) && data[i] >= '0' && data[i] <= '7'; k++ {
						val = val*8 + int(data[i]-'0')
						i++
					}
					sb.WriteByte(byte(val))
					continue
				}
				sb.WriteByte(e)
			}
			i++
		case c == '(':
			if depth > 0 {
				sb.WriteByte(c)
			}
			depth++
			i++
		case c == ')':
			depth--
			i++
			if depth == 0 {
				return sb.String(), i
			}
			sb.WriteByte(c)
		default:
			sb.WriteByte(c)
			i++
		}
	}
	return sb.String(), i
}

// readHex decodes a <…> string starting at data[i] as single-byte text.
func readHex(data []byte, i int) (string, int) {
	i++
	var digits []byte
	for i < len(data) && data[i] != '>' {
		if v, ok := hexValue(data[i]); ok {
			digits = append(digits, v)
		}
		i++
	}
	if i < len(data) {
		i++
	}
	if len(digits)%2 == 1 {
		digits = append(digits, 0)
	}
	var sb strings.Builder
	for k := 0; k < len(digits); k += 2 {
		b := digits[k]<<4 | digits[k+1]
		if b >= 0x20 {
			sb.WriteByte(b)
		}
	}
	return sb.String(), i
}

func hexValue(c byte) (byte, bool) {
	switch {
	case c >= '0' && c <= '9':
		return c - '0', true
	case c >= 'a' && c <= 'f':
		return c - 'a' + 10, true
	case c >= 'A' && c <= 'F':
		return c - 'A' + 10, true
	}
	return 0, false
}
