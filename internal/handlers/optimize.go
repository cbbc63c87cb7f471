package handlers

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"pixelpress/internal/engine"
	"pixelpress/internal/formats"
	"pixelpress/internal/logging"
	"pixelpress/internal/pool"
)

// Optimize handles POST /api/optimize: a multipart upload carrying the
// source image and its encode settings. The response body is the encoded
// image; metadata rides in X-Pixelpress headers.
func (h *Handlers) Optimize(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.config.MaxUploadBytes)

	if err := r.ParseMultipartForm(h.config.MaxUploadBytes); err != nil {
		writeJSONError(w, fmt.Sprintf("parsing upload: %v", err), http.StatusBadRequest)
		return
	}

	file, header, err := r.FormFile("image")
	if err != nil {
		writeJSONError(w, "missing \"image\" file field", http.StatusBadRequest)
		return
	}
	defer func() {
		if err := file.Close(); err != nil {
			logging.Warn("closing upload: %v", err)
		}
	}()

	source, err := io.ReadAll(file)
	if err != nil {
		writeJSONError(w, fmt.Sprintf("reading upload: %v", err), http.StatusBadRequest)
		return
	}
	if len(source) == 0 {
		writeJSONError(w, "empty upload", http.StatusBadRequest)
		return
	}

	animated := formats.IsAnimated(source)
	if animated {
		logging.Warn("%s looks animated; only the first frame is encoded", header.Filename)
	}

	task, err := taskFromForm(r, source)
	if err != nil {
		writeJSONError(w, err.Error(), http.StatusBadRequest)
		return
	}

	res, err := h.pool.Dispatch(r.Context(), task)
	if err != nil {
		status := http.StatusUnprocessableEntity
		var fault *pool.WorkerFault
		if errors.As(err, &fault) {
			status = http.StatusInternalServerError
		}
		var encErr *engine.EncodingError
		if errors.As(err, &encErr) {
			status = http.StatusUnprocessableEntity
		}
		logging.Error("Optimize %s failed: %v", header.Filename, err)
		writeJSONError(w, err.Error(), status)
		return
	}

	traits, _ := formats.TraitsOf(res.Format)
	w.Header().Set("Content-Type", traits.MimeType)
	w.Header().Set("Content-Length", strconv.Itoa(res.ByteSize))
	w.Header().Set("X-Pixelpress-Format", string(res.Format))
	w.Header().Set("X-Pixelpress-Width", strconv.Itoa(res.Width))
	w.Header().Set("X-Pixelpress-Height", strconv.Itoa(res.Height))
	w.Header().Set("X-Pixelpress-Original-Size", strconv.Itoa(len(source)))
	w.Header().Set("X-Pixelpress-Converged", strconv.FormatBool(res.Converged))
	if animated {
		w.Header().Set("X-Pixelpress-Frames-Dropped", "true")
	}

	if _, err := w.Write(res.Bytes); err != nil {
		logging.Error("writing optimize response: %v", err)
	}
}

// taskFromForm validates the settings fields of an optimize upload.
func taskFromForm(r *http.Request, source []byte) (pool.Task, error) {
	task := pool.Task{
		Mode:    pool.ModeFixed,
		Source:  source,
		Format:  formats.JPEG,
		Quality: engine.DefaultQuality,
	}

	if v := r.FormValue("format"); v != "" {
		f, err := formats.Parse(v)
		if err != nil {
			return task, fmt.Errorf("unknown format %q", v)
		}
		task.Format = f
	}

	if v := r.FormValue("quality"); v != "" {
		q, err := strconv.ParseFloat(v, 64)
		if err != nil || q <= 0 || q > 1 {
			return task, fmt.Errorf("quality must be in (0,1], got %q", v)
		}
		task.Quality = q
	}

	if v := r.FormValue("target_size"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return task, fmt.Errorf("target_size must be a positive byte count, got %q", v)
		}
		task.Mode = pool.ModeTargetSize
		task.TargetBytes = n
	}

	var err error
	if task.MaxWidth, err = dimField(r, "max_width"); err != nil {
		return task, err
	}
	if task.MaxHeight, err = dimField(r, "max_height"); err != nil {
		return task, err
	}

	return task, nil
}

func dimField(r *http.Request, name string) (int, error) {
	v := r.FormValue(name)
	if v == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("%s must be a non-negative integer, got %q", name, v)
	}
	return n, nil
}
