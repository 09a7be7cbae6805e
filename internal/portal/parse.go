package portal

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/nmoreno/subastas-monitor/internal/event"
	"github.com/nmoreno/subastas-monitor/internal/money"
)

// ParseError reports a malformed portal payload. It is distinct from
// transport failures: callers skip the line item and keep the error streak
// untouched.
type ParseError struct {
	msg string
}

func (e *ParseError) Error() string { return e.msg }

func parseErrorf(format string, args ...any) error {
	return &ParseError{msg: fmt.Sprintf(format, args...)}
}

// offerWire mirrors one element of the offers array inside the "d" payload.
type offerWire struct {
	IDOfertaSubasta int64   `json:"id_oferta_subasta"`
	IDRenglon       int64   `json:"id_renglon"`
	IDProveedor     int64   `json:"id_proveedor"`
	Monto           float64 `json:"monto"`
	Proveedor       string  `json:"proveedor"`
	MejorOferta     string  `json:"mejor_oferta"`
	Hora            string  `json:"hora"`
	MontoAMostrar   string  `json:"monto_a_mostrar"`
}

// Response is the parsed BuscarOfertas payload for one line item.
type Response struct {
	Offers []event.Offer

	BudgetText    string
	Budget        *float64
	MinToBeatText string
	MinToBeat     *float64

	// Message is the trailing free-text segment; the portal uses it to
	// announce auction state ("Subasta finalizada", ...).
	Message string
}

// Finalized reports whether the portal message announces the auction end.
func (r Response) Finalized() bool {
	return strings.Contains(strings.ToLower(r.Message), "finalizada")
}

// ParseResponse parses the raw "d" string of a BuscarOfertas response:
//
//	"<offers JSON array>@@<budget>@@<min to beat>@@<message>"
//
// The offers segment may be empty or the literal "null" when no offers
// exist yet. Fewer than three segments is a malformed payload.
func ParseResponse(d string) (Response, error) {
	parts := strings.Split(d, "@@")
	if len(parts) < 3 {
		return Response{}, parseErrorf("malformed portal payload: %d segments, want at least 3", len(parts))
	}

	var resp Response
	resp.BudgetText = parts[1]
	resp.Budget = money.Parse(parts[1])
	resp.MinToBeatText = parts[2]
	resp.MinToBeat = money.Parse(parts[2])
	if len(parts) > 3 {
		resp.Message = parts[3]
	}

	grid := strings.TrimSpace(parts[0])
	if grid != "" && grid != "null" {
		var wire []offerWire
		if err := json.Unmarshal([]byte(grid), &wire); err != nil {
			return Response{}, parseErrorf("parse offers array: %v", err)
		}
		resp.Offers = make([]event.Offer, 0, len(wire))
		for _, w := range wire {
			resp.Offers = append(resp.Offers, event.Offer{
				OfferID:    strconv.FormatInt(w.IDOfertaSubasta, 10),
				ProviderID: strconv.FormatInt(w.IDProveedor, 10),
				Provider:   w.Proveedor,
				Monto:      w.Monto,
				MontoText:  w.MontoAMostrar,
				Hora:       w.Hora,
				Label:      w.MejorOferta,
			})
		}
	}

	return resp, nil
}

// Observation turns a parsed response into the normalized per-line-item
// record. The best offer is the current leader of the offer book.
func (r Response) Observation(lineItemID, description string, httpStatus int) event.Observation {
	obs := event.Observation{
		LineItemID:    lineItemID,
		Description:   description,
		Offers:        r.Offers,
		MinToBeat:     r.MinToBeat,
		MinToBeatText: r.MinToBeatText,
		Budget:        r.Budget,
		BudgetText:    r.BudgetText,
		Message:       r.Message,
		Finalized:     r.Finalized(),
		HTTPStatus:    httpStatus,
	}
	if leader := event.Leader(r.Offers); leader != nil {
		best := leader.Monto
		if v := money.Parse(leader.MontoText); v != nil {
			best = *v
		}
		obs.Best = &best
		obs.BestText = leader.MontoText
	}
	return obs
}

// ParseEnvelope unwraps the outer {"d": "..."} JSON object and parses the
// payload inside.
func ParseEnvelope(body []byte) (Response, error) {
	var envelope struct {
		D string `json:"d"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		return Response{}, parseErrorf("parse response envelope: %v", err)
	}
	if envelope.D == "" {
		return Response{}, parseErrorf("empty \"d\" field in portal response")
	}
	return ParseResponse(envelope.D)
}
