package triage

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
)

// Handler exposes the engine over HTTP. It is stateless: the caller sends the
// session back with every request.
type Handler struct {
	engine *Engine
}

func NewHandler(engine *Engine) *Handler {
	return &Handler{engine: engine}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	g := api.Group("/triage")
	g.GET("/schema", h.GetSchema)
	g.POST("/start", h.Start)
	g.POST("/answer", h.Answer)
	g.POST("/advance", h.Advance)
	g.POST("/back", h.Back)
	g.POST("/evaluate", h.Evaluate)
}

// wireSession is the JSON form of Session as sent by clients. Answers stay raw
// until they can be decoded against the schema.
type wireSession struct {
	Step    int                        `json:"step"`
	Answers map[string]json.RawMessage `json:"answers"`
	Outcome Outcome                    `json:"outcome,omitempty"`
	Message string                     `json:"message,omitempty"`
}

func (h *Handler) decodeSession(w wireSession) (Session, error) {
	answers, err := DecodeAnswers(h.engine.Schema(), w.Answers)
	if err != nil {
		return Session{}, err
	}
	return Session{Step: w.Step, Answers: answers, Outcome: w.Outcome, Message: w.Message}, nil
}

type sessionResponse struct {
	Session  Session     `json:"session"`
	Result   *Transition `json:"result,omitempty"`
	Progress Progress    `json:"progress"`
}

func (h *Handler) respond(c echo.Context, s Session, tr *Transition) error {
	return c.JSON(http.StatusOK, sessionResponse{Session: s, Result: tr, Progress: h.engine.Progress(s)})
}

func (h *Handler) GetSchema(c echo.Context) error {
	return c.JSON(http.StatusOK, h.engine.Schema())
}

func (h *Handler) Start(c echo.Context) error {
	return h.respond(c, h.engine.Start(), nil)
}

type answerRequest struct {
	Session    wireSession     `json:"session"`
	QuestionID string          `json:"question_id"`
	Answer     json.RawMessage `json:"answer"`
}

func (h *Handler) Answer(c echo.Context) error {
	var req answerRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	s, err := h.decodeSession(req.Session)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	q, ok := h.engine.Schema().Question(req.QuestionID)
	if !ok {
		return echo.NewHTTPError(http.StatusBadRequest, "unknown question: "+req.QuestionID)
	}
	a, err := DecodeAnswer(q, req.Answer)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	s, err = h.engine.SetAnswer(s, q.ID, a)
	if err != nil {
		return engineError(err)
	}
	return h.respond(c, s, nil)
}

type sessionRequest struct {
	Session wireSession `json:"session"`
}

func (h *Handler) Advance(c echo.Context) error {
	var req sessionRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	s, err := h.decodeSession(req.Session)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	next, tr, err := h.engine.Advance(s)
	if err != nil {
		return engineError(err)
	}
	return h.respond(c, next, &tr)
}

func (h *Handler) Back(c echo.Context) error {
	var req sessionRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	s, err := h.decodeSession(req.Session)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	prev, err := h.engine.GoBack(s)
	if err != nil {
		return engineError(err)
	}
	return h.respond(c, prev, nil)
}

type evaluateRequest struct {
	Answers map[string]json.RawMessage `json:"answers"`
}

func (h *Handler) Evaluate(c echo.Context) error {
	var req evaluateRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	answers, err := DecodeAnswers(h.engine.Schema(), req.Answers)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	s, tr, err := h.engine.Evaluate(answers)
	if err != nil {
		return engineError(err)
	}
	return h.respond(c, s, &tr)
}

// engineError maps engine errors onto HTTP errors.
func engineError(err error) error {
	var verr *ValidationError
	switch {
	case errors.As(err, &verr):
		return echo.NewHTTPError(http.StatusUnprocessableEntity, map[string]string{
			"error":       verr.Message,
			"question_id": verr.QuestionID,
		})
	case errors.Is(err, ErrSessionTerminal):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	}
	return echo.NewHTTPError(http.StatusBadRequest, err.Error())
}
