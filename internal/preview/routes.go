package preview

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/paulmach/orb"

	"mapview/internal/feature"
	"mapview/internal/mapview"
)

// maxBodyBytes 请求体上限
const maxBodyBytes = 8 << 20

type viewResponse struct {
	State   string            `json:"state"`
	BaseMap string            `json:"basemap"`
	View    mapview.ViewState `json:"view"`
}

type renderRequest struct {
	Features     json.RawMessage `json:"features"`
	PreserveView bool            `json:"preserve_view"`
}

type clickRequest struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

type baseMapRequest struct {
	Value string `json:"value"`
}

type popupRequest struct {
	Content string     `json:"content"`
	Anchor  *orb.Point `json:"anchor"`
	Hide    bool       `json:"hide"`
}

type resizeRequest struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("content-type", "application/json; charset=utf-8")
	w.Header().Set("cache-control", "no-store")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error) {
	writeJSON(w, statusFor(err), map[string]string{"error": err.Error()})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, mapview.ErrTornDown):
		return http.StatusGone
	case notMounted(err), errors.Is(err, mapview.ErrStaleMount):
		return http.StatusConflict
	case errors.Is(err, mapview.ErrUnknownBaseMap):
		return http.StatusBadRequest
	case errors.Is(err, mapview.ErrMissingCredential):
		return http.StatusPreconditionFailed
	case errors.Is(err, mapview.ErrProviderLoad):
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

func decode(r *http.Request, v any) error {
	b, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		return err
	}
	if len(b) == 0 {
		return nil
	}
	return json.Unmarshal(b, v)
}

func badRequest(w http.ResponseWriter, err error) {
	writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
}

// 构建并返回预览 API 路由：独立 ServeMux 便于在主入口挂载到 /api 前缀
func BuildRoutes(s *Server) *http.ServeMux {
	mux := http.NewServeMux()
	c := s.ctrl

	mux.HandleFunc("GET /view", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, viewResponse{State: c.State().String(), BaseMap: c.BaseMap().Value, View: c.ViewState()})
	})

	mux.HandleFunc("POST /mount", func(w http.ResponseWriter, r *http.Request) {
		if err := s.Mount(r.Context()); err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, viewResponse{State: c.State().String(), BaseMap: c.BaseMap().Value, View: c.ViewState()})
	})

	mux.HandleFunc("POST /render", func(w http.ResponseWriter, r *http.Request) {
		var req renderRequest
		if err := decode(r, &req); err != nil {
			badRequest(w, err)
			return
		}
		var fs []feature.Feature
		if len(req.Features) > 0 && string(req.Features) != "null" {
			parsed, err := feature.ParseCollection(req.Features)
			if err != nil {
				badRequest(w, err)
				return
			}
			fs = append([]feature.Feature{}, parsed...)
		}
		res, err := s.Render(r.Context(), fs, req.PreserveView)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, res)
	})

	mux.HandleFunc("POST /click", func(w http.ResponseWriter, r *http.Request) {
		var req clickRequest
		if err := decode(r, &req); err != nil {
			badRequest(w, err)
			return
		}
		res, err := s.Click(orb.Point{req.X, req.Y})
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, res)
	})

	mux.HandleFunc("POST /resize", func(w http.ResponseWriter, r *http.Request) {
		var req resizeRequest
		if err := decode(r, &req); err != nil {
			badRequest(w, err)
			return
		}
		if req.Width <= 0 || req.Height <= 0 {
			badRequest(w, errors.New("width and height must be positive"))
			return
		}
		if err := s.Resize(req.Width, req.Height); err != nil {
			writeError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	})

	mux.HandleFunc("GET /basemaps", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"options": c.BaseMaps(), "current": c.BaseMap().Value})
	})

	mux.HandleFunc("POST /basemap", func(w http.ResponseWriter, r *http.Request) {
		var req baseMapRequest
		if err := decode(r, &req); err != nil {
			badRequest(w, err)
			return
		}
		if err := c.SetBaseMap(r.Context(), req.Value); err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, viewResponse{State: c.State().String(), BaseMap: c.BaseMap().Value, View: c.ViewState()})
	})

	mux.HandleFunc("POST /popup", func(w http.ResponseWriter, r *http.Request) {
		var req popupRequest
		if err := decode(r, &req); err != nil {
			badRequest(w, err)
			return
		}
		if req.Hide {
			c.HidePopup()
			w.WriteHeader(http.StatusNoContent)
			return
		}
		if req.Anchor == nil {
			badRequest(w, errors.New("anchor required"))
			return
		}
		if err := c.ShowPopup(req.Content, *req.Anchor); err != nil {
			writeError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	})

	mux.HandleFunc("GET /tiles", func(w http.ResponseWriter, r *http.Request) {
		tiles, ok := s.Tiles()
		if !ok {
			writeJSON(w, http.StatusConflict, map[string]string{"error": "current basemap has no tile layers"})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"tiles": tiles})
	})

	return mux
}
