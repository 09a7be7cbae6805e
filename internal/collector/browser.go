package collector

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"sync"
	"time"
	"unicode"

	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/cdproto/storage"
	"github.com/chromedp/chromedp"
	"golang.org/x/text/unicode/norm"

	"github.com/nmoreno/subastas-monitor/internal/event"
	"github.com/nmoreno/subastas-monitor/internal/money"
	"github.com/nmoreno/subastas-monitor/internal/portal"
	"github.com/nmoreno/subastas-monitor/internal/queue"
)

// idCotRe extracts the auction id from the page's inline script.
var idCotRe = regexp.MustCompile(`Cargar_Parametro\("id_Cotizacion",'(\d+)'`)

// itemsJS lists the line items from the renglón selector.
const itemsJS = `Array.from(document.querySelectorAll('#ddlItemRenglon option'))
	.filter(o => o.value)
	.map(o => ({id_renglon: o.value, description: o.textContent.trim()}))`

// detalleJS reads the auction detail table cell by cell. Columns are
// descripción, cantidad, precio de referencia unitario and presupuesto
// oficial.
const detalleJS = `Array.from(document.querySelectorAll(
	'#gvDetalleCotizacion tr.Renglon, #gvDetalleCotizacion tr.RenglonAlternativo'))
	.map(r => Array.from(r.querySelectorAll('td')).map(td => (td.textContent || '').trim()))`

// BrowserConfig tunes the Chrome-driven collector.
type BrowserConfig struct {
	AuctionURL  string
	Headless    bool
	PollSeconds float64
	// SessionPath, when set, receives the captured session after every
	// capture pass so the poll subcommand can take over.
	SessionPath string
}

// Browser drives a real Chrome session: it captures the auction structure
// and cookies from the live page, then polls BuscarOfertas from inside the
// page so the portal sees ordinary XHR traffic.
type Browser struct {
	cfg     BrowserConfig
	out     *emitter
	control *queue.Control
	logger  *slog.Logger

	tracker *changeTracker
	tickDur time.Duration

	mu      sync.Mutex
	session portal.Session

	allocCancel context.CancelFunc
	tabCancel   context.CancelFunc
	ctx         context.Context
	cancel      context.CancelFunc
	wg          sync.WaitGroup
}

var _ Collector = (*Browser)(nil)

// NewBrowser creates a browser collector. The auction id is discovered
// during the capture pass; until then events carry an empty id.
func NewBrowser(cfg BrowserConfig, out *queue.Bounded[event.Event], control *queue.Control, logger *slog.Logger) *Browser {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.PollSeconds <= 0 {
		cfg.PollSeconds = 2.0
	}
	return &Browser{
		cfg:     cfg,
		out:     &emitter{out: out},
		control: control,
		logger:  logger,
		tracker: newChangeTracker(),
		tickDur: time.Duration(cfg.PollSeconds * float64(time.Second)),
	}
}

// Session returns the latest captured session, for handoff to an HTTPPoll
// collector.
func (b *Browser) Session() portal.Session {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.session
}

// Start launches Chrome, navigates to the auction and begins polling.
func (b *Browser) Start(ctx context.Context) error {
	b.ctx, b.cancel = context.WithCancel(ctx)

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", b.cfg.Headless),
		chromedp.Flag("ignore-certificate-errors", true),
	)
	allocCtx, allocCancel := chromedp.NewExecAllocator(b.ctx, opts...)
	tabCtx, tabCancel := chromedp.NewContext(allocCtx)
	b.allocCancel = allocCancel
	b.tabCancel = tabCancel

	if err := chromedp.Run(tabCtx,
		chromedp.Navigate(b.cfg.AuctionURL),
		chromedp.WaitVisible("#ddlItemRenglon", chromedp.ByID),
	); err != nil {
		tabCancel()
		allocCancel()
		return fmt.Errorf("open auction page: %w", err)
	}

	b.wg.Add(1)
	go b.run(tabCtx)

	b.logger.Info("browser collector started",
		"url", b.cfg.AuctionURL,
		"headless", b.cfg.Headless,
		"poll_seconds", b.cfg.PollSeconds,
	)
	return nil
}

// Stop closes the browser and waits for the loop.
func (b *Browser) Stop(ctx context.Context) error {
	if b.cancel != nil {
		b.cancel()
	}

	done := make(chan struct{})
	go func() {
		b.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}

	if b.tabCancel != nil {
		b.tabCancel()
	}
	if b.allocCancel != nil {
		b.allocCancel()
	}
	b.logger.Info("browser collector stopped")
	return nil
}

func (b *Browser) run(tabCtx context.Context) {
	defer b.wg.Done()

	if err := b.capture(tabCtx); err != nil {
		b.logger.Error("capture pass failed", "err", err)
		ev := event.New(event.LevelError, event.TypeHTTPError, "", err.Error())
		ev.HTTPError = &event.HTTPError{Message: err.Error()}
		b.out.emit(b.ctx, ev)
		return
	}

	start := time.Now()
	for tick := 1; ; tick++ {
		if stop := b.handleCommands(tabCtx); stop {
			return
		}

		ended := b.pollTick(tabCtx)

		hb := event.New(event.LevelDebug, event.TypeHeartbeat, "", "")
		hb.Heartbeat = &event.Heartbeat{Tick: tick, Elapsed: time.Since(start).Seconds()}
		if !b.out.emit(b.ctx, hb) {
			return
		}

		if ended {
			end := event.New(event.LevelInfo, event.TypeEnd, "", "subasta finalizada")
			b.out.emit(b.ctx, end)
			return
		}

		if !b.sleepTick(tabCtx) {
			return
		}
	}
}

// capture reads the auction id, margin, line items and cookies from the
// live page, stores the session and emits a fresh SNAPSHOT.
func (b *Browser) capture(tabCtx context.Context) error {
	var html, margin string
	var wireItems []struct {
		IDRenglon   string `json:"id_renglon"`
		Description string `json:"description"`
	}
	var detalleCells [][]string
	var cookies []*network.Cookie

	err := chromedp.Run(tabCtx,
		chromedp.OuterHTML("html", &html),
		chromedp.Value("#txtMargenMinimo", &margin, chromedp.ByID),
		chromedp.Evaluate(itemsJS, &wireItems),
		chromedp.Evaluate(detalleJS, &detalleCells),
		chromedp.ActionFunc(func(ctx context.Context) error {
			var err error
			cookies, err = storage.GetCookies().Do(ctx)
			return err
		}),
	)
	if err != nil {
		return fmt.Errorf("capture page state: %w", err)
	}

	m := idCotRe.FindStringSubmatch(html)
	if m == nil {
		return fmt.Errorf("id_Cotizacion not found in page")
	}

	session := portal.Session{
		IDCot:      m[1],
		AuctionURL: b.cfg.AuctionURL,
		Margin:     margin,
	}
	for _, it := range wireItems {
		session.Items = append(session.Items, portal.ItemRef{
			ID:          it.IDRenglon,
			Description: it.Description,
		})
	}
	for _, ck := range cookies {
		session.Cookies = append(session.Cookies, portal.Cookie{
			Name:   ck.Name,
			Value:  ck.Value,
			Domain: ck.Domain,
			Path:   ck.Path,
		})
	}
	if !session.Valid() {
		return fmt.Errorf("captured session incomplete: id_cot=%q items=%d cookies=%d",
			session.IDCot, len(session.Items), len(session.Cookies))
	}

	b.mu.Lock()
	b.session = session
	b.mu.Unlock()
	b.out.auctionID = session.IDCot

	if b.cfg.SessionPath != "" {
		if err := session.Save(b.cfg.SessionPath); err != nil {
			b.logger.Warn("session save failed", "path", b.cfg.SessionPath, "err", err)
		}
	}

	snap := event.Snapshot{AuctionURL: b.cfg.AuctionURL, Margin: margin}
	for _, it := range session.Items {
		snap.Items = append(snap.Items, event.SnapshotItem{
			LineItemID:  it.ID,
			Description: it.Description,
		})
	}
	enrichDetalle(snap.Items, parseDetalleRows(detalleCells))
	ev := event.New(event.LevelInfo, event.TypeSnapshot, "", "browser capture")
	ev.Snapshot = &snap
	if !b.out.emit(b.ctx, ev) {
		return fmt.Errorf("event queue closed")
	}

	b.logger.Info("session captured",
		"id_cot", session.IDCot,
		"items", len(session.Items),
		"cookies", len(session.Cookies),
	)
	return nil
}

// detalleRow is one parsed row of the auction detail table. "RENGLON ..."
// rows summarize a whole renglón.
type detalleRow struct {
	Description string
	IsResumen   bool
	Quantity    *float64
	RefUnit     *float64
	Budget      *float64
}

// parseDetalleRows converts the scraped cell grid; rows with fewer than
// four cells are layout filler.
func parseDetalleRows(cells [][]string) []detalleRow {
	rows := make([]detalleRow, 0, len(cells))
	for _, c := range cells {
		if len(c) < 4 {
			continue
		}
		rows = append(rows, detalleRow{
			Description: c[0],
			IsResumen:   strings.HasPrefix(strings.ToUpper(strings.TrimSpace(c[0])), "RENGLON "),
			Quantity:    money.Parse(c[1]),
			RefUnit:     money.Parse(c[2]),
			Budget:      money.Parse(c[3]),
		})
	}
	return rows
}

// normalizeDesc lowercases, collapses whitespace and strips accents so the
// detail table and the selector options compare equal.
func normalizeDesc(s string) string {
	s = strings.ToLower(strings.Join(strings.Fields(s), " "))
	var b strings.Builder
	for _, r := range norm.NFKD.String(s) {
		if unicode.Is(unicode.Mn, r) {
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// optionPrefixRe strips the "N - " index the renglón selector prepends.
var optionPrefixRe = regexp.MustCompile(`^\d+\s*-\s*`)

// matchResumen pairs a selector option with an unused summary row by
// description, each row claimed at most once.
func matchResumen(option string, resumen []*detalleRow, used map[int]bool) *detalleRow {
	opt := normalizeDesc(optionPrefixRe.ReplaceAllString(strings.TrimSpace(option), ""))
	if opt == "" {
		return nil
	}
	for i, r := range resumen {
		if used[i] {
			continue
		}
		desc := strings.TrimPrefix(normalizeDesc(r.Description), "renglon ")
		if desc == opt || strings.Contains(desc, opt) || strings.Contains(opt, desc) {
			used[i] = true
			return r
		}
	}
	return nil
}

// enrichDetalle fills quantity, unit reference price and budget on the
// snapshot items from the detail table: exact description match first, then
// summary rows, then a positional fallback for tables without summaries.
func enrichDetalle(items []event.SnapshotItem, rows []detalleRow) {
	if len(rows) == 0 {
		return
	}
	byDesc := make(map[string]*detalleRow, len(rows))
	var regular, resumen []*detalleRow
	for i := range rows {
		r := &rows[i]
		byDesc[normalizeDesc(r.Description)] = r
		if r.IsResumen {
			resumen = append(resumen, r)
		} else {
			regular = append(regular, r)
		}
	}

	used := make(map[int]bool, len(resumen))
	for i := range items {
		det := byDesc[normalizeDesc(items[i].Description)]
		if det == nil {
			det = matchResumen(items[i].Description, resumen, used)
		}
		if det == nil && len(items) == 1 && len(resumen) == 1 {
			det = resumen[0]
		}
		if det == nil && len(resumen) == 0 && len(items) == len(regular) {
			det = regular[i]
		}
		if det == nil {
			continue
		}
		items[i].Quantity = det.Quantity
		items[i].RefUnit = det.RefUnit
		items[i].Budget = det.Budget
	}
}

// fetchJS runs BuscarOfertas from inside the page so cookies and headers
// are the browser's own.
const fetchJS = `(async () => {
	const res = await fetch('/VistaPublica/SubastaVivoAccesoPublico.aspx/BuscarOfertas', {
		method: 'POST',
		headers: {
			'Content-Type': 'application/json; charset=UTF-8',
			'X-Requested-With': 'XMLHttpRequest'
		},
		credentials: 'include',
		body: JSON.stringify({id_Cotizacion: %q, id_Item_Renglon: %q, Margen_Minimo: %q})
	});
	if (!res.ok) {
		return JSON.stringify({status: res.status});
	}
	const j = await res.json();
	return JSON.stringify({status: 200, d: j.d});
})()`

type fetchResult struct {
	Status int    `json:"status"`
	D      string `json:"d"`
}

// pollTick polls every line item through the page. Returns true when the
// portal announced the auction end.
func (b *Browser) pollTick(tabCtx context.Context) bool {
	session := b.Session()

	var ended bool
	for _, item := range session.Items {
		js := fmt.Sprintf(fetchJS, session.IDCot, item.ID, session.Margin)

		var raw string
		err := chromedp.Run(tabCtx, chromedp.Evaluate(js, &raw,
			func(p *runtime.EvaluateParams) *runtime.EvaluateParams {
				return p.WithAwaitPromise(true)
			}))
		if err != nil {
			b.emitHTTPError(0, item.ID, err.Error())
			continue
		}

		var res fetchResult
		if err := json.Unmarshal([]byte(raw), &res); err != nil {
			b.logger.Warn("resultado de fetch no parseable", "id_renglon", item.ID, "err", err)
			continue
		}
		if res.Status != 200 {
			b.emitHTTPError(res.Status, item.ID, fmt.Sprintf("http %d", res.Status))
			continue
		}

		// Parse failures are not transport errors; skip the line item.
		resp, err := portal.ParseResponse(res.D)
		if err != nil {
			b.logger.Warn("respuesta no parseable", "id_renglon", item.ID, "err", err)
			continue
		}
		obs := resp.Observation(item.ID, item.Description, 200)
		if resp.Finalized() {
			ended = true
		}
		if !b.tracker.Changed(obs) {
			continue
		}
		ev := event.New(event.LevelInfo, event.TypeUpdate, "", "")
		ev.Update = &obs
		if !b.out.emit(b.ctx, ev) {
			return ended
		}
	}
	return ended
}

func (b *Browser) emitHTTPError(status int, lineItemID, msg string) {
	ev := event.New(event.LevelError, event.TypeHTTPError, "", msg)
	ev.HTTPError = &event.HTTPError{Status: status, Message: msg, LineItemID: lineItemID}
	b.out.emit(b.ctx, ev)
}

func (b *Browser) handleCommands(tabCtx context.Context) bool {
	if b.control == nil {
		return false
	}
	for _, cmd := range b.control.Drain() {
		switch cmd.Kind {
		case queue.CmdStop:
			ev := event.New(event.LevelInfo, event.TypeStop, "", cmd.Reason)
			b.out.emit(b.ctx, ev)
			return true
		case queue.CmdSetPoll, queue.CmdBackoff:
			if cmd.Seconds > 0 {
				b.tickDur = time.Duration(cmd.Seconds * float64(time.Second))
				b.logger.Info("poll interval changed", "seconds", cmd.Seconds)
			}
		case queue.CmdCapture:
			b.tracker.Reset()
			if err := b.capture(tabCtx); err != nil {
				b.logger.Error("re-capture failed", "err", err)
			}
		}
	}
	return false
}

func (b *Browser) sleepTick(tabCtx context.Context) bool {
	timer := time.NewTimer(b.tickDur)
	defer timer.Stop()

	var notify <-chan struct{}
	if b.control != nil {
		notify = b.control.Notify()
	}

	for {
		select {
		case <-b.ctx.Done():
			return false
		case <-timer.C:
			return true
		case <-notify:
			if stop := b.handleCommands(tabCtx); stop {
				return false
			}
		}
	}
}
