package gp51

import (
	"strings"
	"time"

	"github.com/autopeer-io/fleetsync/internal/fleetsync/core/model"
)

// Web API actions.
const (
	actionLogin            = "login"
	actionLastPosition     = "lastposition"
	actionQueryMonitorList = "querymonitorlist"
)

// statusOK is the only success value of the envelope status field.
const statusOK = 0

type envelope struct {
	Status int    `json:"status"`
	Cause  string `json:"cause"`
}

// tokenRejected reports whether a failed envelope means the token is no longer accepted.
func (e envelope) tokenRejected() bool {
	if e.Status == statusOK {
		return false
	}
	c := strings.ToLower(e.Cause)
	return strings.Contains(c, "token") || strings.Contains(c, "login")
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
	From     string `json:"from"`
	Type     string `json:"type"`
}

type loginResponse struct {
	envelope
	Token string `json:"token"`
}

type lastPositionRequest struct {
	DeviceIDs []string `json:"deviceids"`

	// LastQueryPositionTime of zero asks for the latest fix of every device.
	LastQueryPositionTime int64 `json:"lastquerypositiontime"`
}

type lastPositionResponse struct {
	envelope
	Records []positionRecord `json:"records"`
}

type positionRecord struct {
	DeviceID   string  `json:"deviceid"`
	Lat        float64 `json:"callat"`
	Lon        float64 `json:"callon"`
	Speed      float64 `json:"speed"`
	Course     float64 `json:"course"`
	UpdateTime int64   `json:"updatetime"`
	StatusText string  `json:"strstatusen"`
}

func (r positionRecord) toFix() model.PositionFix {
	var captured time.Time
	if r.UpdateTime > 0 {
		captured = time.UnixMilli(r.UpdateTime).UTC()
	}
	return model.PositionFix{
		DeviceID:   r.DeviceID,
		Lat:        r.Lat,
		Lon:        r.Lon,
		SpeedKph:   r.Speed,
		HeadingDeg: r.Course,
		CapturedAt: captured,
		StatusText: r.StatusText,
	}
}

type monitorListRequest struct {
	Username string `json:"username"`
}
