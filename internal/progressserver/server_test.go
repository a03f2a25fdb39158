package progressserver

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/modelshard/convert/internal/convert"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func buildFixtureModel(t *testing.T) (ggufPath, tokPath string) {
	t.Helper()
	var buf bytes.Buffer
	writeU32 := func(v uint32) { require.NoError(t, binary.Write(&buf, binary.LittleEndian, v)) }
	writeU64 := func(v uint64) { require.NoError(t, binary.Write(&buf, binary.LittleEndian, v)) }
	writeF32 := func(v float32) { require.NoError(t, binary.Write(&buf, binary.LittleEndian, v)) }
	writeString := func(s string) {
		writeU64(uint64(len(s)))
		buf.WriteString(s)
	}

	writeU32(0x46554747)
	writeU32(3)
	writeU64(1)
	writeU64(1)
	writeString("general.architecture")
	writeU32(8)
	writeString("llama")
	writeString("blk.0.attn_q.weight")
	writeU32(2)
	writeU64(4)
	writeU64(2)
	writeU32(0)
	writeU64(0)

	headerLen := buf.Len()
	aligned := headerLen
	if rem := aligned % 32; rem != 0 {
		aligned += 32 - rem
	}
	buf.Write(make([]byte, aligned-headerLen))
	for i := 0; i < 8; i++ {
		writeF32(float32(i) + 0.5)
	}

	dir := t.TempDir()
	ggufPath = filepath.Join(dir, "model.gguf")
	require.NoError(t, os.WriteFile(ggufPath, buf.Bytes(), 0o644))
	tokPath = filepath.Join(dir, "tokenizer.json")
	require.NoError(t, os.WriteFile(tokPath, []byte(`{}`), 0o644))
	return ggufPath, tokPath
}

func TestHandleConvertStreamsProgressEvents(t *testing.T) {
	ggufPath, tokPath := buildFixtureModel(t)
	baseDir := t.TempDir()

	d, err := convert.NewDriver(baseDir)
	require.NoError(t, err)
	srv := New(d)

	r := gin.New()
	r.POST("/api/convert", srv.handleConvert)

	body, err := json.Marshal(ConvertRequest{Paths: []string{ggufPath, tokPath}})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/api/convert", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)

	var stages []string
	scanner := bufio.NewScanner(w.Body)
	for scanner.Scan() {
		var je jobEvent
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &je))
		stages = append(stages, string(je.Event.Stage))
	}
	assert.Contains(t, stages, string(convert.StageComplete))
}

func TestHandleCancelUnknownJobReturns404(t *testing.T) {
	baseDir := t.TempDir()
	d, err := convert.NewDriver(baseDir)
	require.NoError(t, err)
	srv := New(d)

	r := gin.New()
	r.DELETE("/api/convert/:id", srv.handleCancel)

	req := httptest.NewRequest(http.MethodDelete, "/api/convert/does-not-exist", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusNotFound, w.Code)
}
