package invoice

import (
	"bytes"
	"html/template"
	"strconv"
	"strings"

	"github.com/fabirmss/notaFi/internal/domain"
	"github.com/fabirmss/notaFi/internal/format"
)

// DefaultCFOP is printed when the header does not carry one.
const DefaultCFOP = "5102"

// Preview is the display-ready DANFE model. Every value is already
// formatted; renderers only lay it out.
type Preview struct {
	Number            string        `json:"number"`
	Series            string        `json:"series"`
	EmissionDate      string        `json:"emission_date"`
	ExitTime          string        `json:"exit_time"`
	NatureOfOperation string        `json:"nature_of_operation"`
	CFOP              string        `json:"cfop"`
	Observations      string        `json:"observations,omitempty"`
	Emitter           PreviewParty  `json:"emitter"`
	Client            PreviewParty  `json:"client"`
	Transporter       *PreviewParty `json:"transporter,omitempty"`
	Items             []PreviewItem `json:"items"`
	Totals            PreviewTotals `json:"totals"`
}

type PreviewParty struct {
	Name              string `json:"name"`
	TradeName         string `json:"trade_name,omitempty"`
	Document          string `json:"document,omitempty"`
	StateRegistration string `json:"state_registration,omitempty"`
	Address           string `json:"address,omitempty"`
	City              string `json:"city,omitempty"`
	State             string `json:"state,omitempty"`
	CEP               string `json:"cep,omitempty"`
	Phone             string `json:"phone,omitempty"`
	Plate             string `json:"plate,omitempty"`
}

type PreviewItem struct {
	Code        string `json:"code"`
	Description string `json:"description"`
	Quantity    string `json:"quantity"`
	UnitPrice   string `json:"unit_price"`
	Subtotal    string `json:"subtotal"`
	ICMSRate    string `json:"icms_rate"`
	ICMSAmount  string `json:"icms_amount"`
	IPIRate     string `json:"ipi_rate"`
	IPIAmount   string `json:"ipi_amount"`
}

type PreviewTotals struct {
	Products      string `json:"products"`
	ICMSBase      string `json:"icms_base"`
	ICMS          string `json:"icms"`
	IPI           string `json:"ipi"`
	Freight       string `json:"freight"`
	Insurance     string `json:"insurance"`
	OtherExpenses string `json:"other_expenses"`
	Discount      string `json:"discount"`
	Total         string `json:"total"`
}

// ToPreviewModel maps a stored or assembled invoice into the DANFE
// preview layout. It reads the payload only and never recomputes totals.
func ToPreviewModel(payload domain.InvoicePayload, emitter domain.Emitter) Preview {
	h := payload.Header
	cfop := h.CFOP
	if cfop == "" {
		cfop = DefaultCFOP
	}

	items := make([]PreviewItem, 0, len(payload.Items))
	for _, line := range payload.Items {
		items = append(items, PreviewItem{
			Code:        line.ProductID,
			Description: line.Description,
			Quantity:    strconv.Itoa(line.Quantity),
			UnitPrice:   format.BRL(line.UnitPrice),
			Subtotal:    format.BRL(line.Subtotal),
			ICMSRate:    format.Percent(line.ICMSRate),
			ICMSAmount:  format.BRL(line.ICMSAmount),
			IPIRate:     format.Percent(line.IPIRate),
			IPIAmount:   format.BRL(line.IPIAmount),
		})
	}

	p := Preview{
		Number:            format.InvoiceNumber(h.Number),
		Series:            h.Series,
		NatureOfOperation: h.NatureOfOperation,
		CFOP:              cfop,
		Observations:      h.Observations,
		Emitter:           emitterParty(emitter),
		Items:             items,
		Totals:            previewTotals(payload.Totals),
	}
	if !h.EmittedAt.IsZero() {
		p.EmissionDate = h.EmittedAt.Format("02/01/2006")
		p.ExitTime = h.EmittedAt.Format("15:04:05")
	}
	if h.Client != nil {
		p.Client = previewParty(*h.Client)
	} else {
		p.Client = PreviewParty{Name: h.ClientID}
	}
	if h.Transporter != nil {
		t := previewParty(*h.Transporter)
		p.Transporter = &t
	}
	return p
}

func previewTotals(t domain.InvoiceTotals) PreviewTotals {
	return PreviewTotals{
		Products:      format.BRL(t.ProductsSubtotal),
		ICMSBase:      format.BRL(t.ICMSBase),
		ICMS:          format.BRL(t.ICMSTotal),
		IPI:           format.BRL(t.IPITotal),
		Freight:       format.BRL(t.Freight),
		Insurance:     format.BRL(t.Insurance),
		OtherExpenses: format.BRL(t.OtherExpenses),
		Discount:      format.BRL(t.Discount),
		Total:         format.BRL(t.GrandTotal),
	}
}

func emitterParty(e domain.Emitter) PreviewParty {
	address := strings.TrimSpace(strings.Join(nonEmpty(e.Street, e.Number, e.Neighborhood), ", "))
	return PreviewParty{
		Name:              e.LegalName,
		TradeName:         e.TradeName,
		Document:          format.CNPJ(e.CNPJ),
		StateRegistration: e.StateRegistration,
		Address:           address,
		City:              e.City,
		State:             e.State,
		CEP:               format.CEP(e.CEP),
		Phone:             e.Phone,
	}
}

func previewParty(p domain.Party) PreviewParty {
	address := strings.Join(nonEmpty(p.Address, p.Neighborhood), ", ")
	return PreviewParty{
		Name:              p.Name,
		Document:          format.Document(p.Document),
		StateRegistration: p.StateRegistration,
		Address:           address,
		City:              p.City,
		State:             p.State,
		CEP:               format.CEP(p.CEP),
		Phone:             p.Phone,
		Plate:             p.Plate,
	}
}

func nonEmpty(values ...string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}

// danfeHTMLTmpl lays out the preview as a printable page. html/template
// escapes every field.
var danfeHTMLTmpl = template.Must(template.New("danfe").Parse(`<!doctype html>
<html lang="pt-BR">
<head>
  <meta charset="utf-8" />
  <title>DANFE {{.Number}}</title>
  <style>
    body { font-family: sans-serif; margin: 24px; font-size: 12px; }
    table { width: 100%; border-collapse: collapse; margin-top: 8px; }
    th, td { border: 1px solid #444; padding: 4px; }
    td.num { text-align: right; }
    h2, h3 { margin: 8px 0 4px; }
    .box { border: 1px solid #444; padding: 6px; margin-top: 6px; }
  </style>
</head>
<body>
  <div class="box">
    <h2>{{.Emitter.Name}}</h2>
    {{with .Emitter.TradeName}}<p>{{.}}</p>{{end}}
    <p>{{.Emitter.Address}} - {{.Emitter.City}}/{{.Emitter.State}} {{.Emitter.CEP}}</p>
    <p>CNPJ: {{.Emitter.Document}} | IE: {{.Emitter.StateRegistration}}</p>
    <p><strong>NF-e Nº {{.Number}} Série {{.Series}}</strong></p>
    <p>Natureza da operação: {{.NatureOfOperation}} | CFOP: {{.CFOP}}</p>
    <p>Emissão: {{.EmissionDate}} | Saída: {{.ExitTime}}</p>
  </div>

  <h3>Destinatário</h3>
  <div class="box">
    <p>{{.Client.Name}} | {{.Client.Document}}</p>
    <p>{{.Client.Address}} {{.Client.City}}/{{.Client.State}} {{.Client.CEP}}</p>
  </div>

  {{with .Transporter}}
  <h3>Transportador</h3>
  <div class="box">
    <p>{{.Name}} | {{.Document}}{{with .Plate}} | Placa: {{.}}{{end}}</p>
  </div>
  {{end}}

  <h3>Produtos</h3>
  <table>
    <thead><tr><th>Código</th><th>Descrição</th><th>Qtd</th><th>Valor unit.</th><th>Valor total</th><th>ICMS %</th><th>ICMS</th><th>IPI %</th><th>IPI</th></tr></thead>
    <tbody>{{range .Items}}<tr><td>{{.Code}}</td><td>{{.Description}}</td><td class="num">{{.Quantity}}</td><td class="num">{{.UnitPrice}}</td><td class="num">{{.Subtotal}}</td><td class="num">{{.ICMSRate}}</td><td class="num">{{.ICMSAmount}}</td><td class="num">{{.IPIRate}}</td><td class="num">{{.IPIAmount}}</td></tr>{{end}}</tbody>
  </table>

  <h3>Cálculo do imposto</h3>
  <table>
    <tr><td>Base ICMS</td><td class="num">{{.Totals.ICMSBase}}</td><td>Valor ICMS</td><td class="num">{{.Totals.ICMS}}</td><td>Valor IPI</td><td class="num">{{.Totals.IPI}}</td></tr>
    <tr><td>Produtos</td><td class="num">{{.Totals.Products}}</td><td>Frete</td><td class="num">{{.Totals.Freight}}</td><td>Seguro</td><td class="num">{{.Totals.Insurance}}</td></tr>
    <tr><td>Outras despesas</td><td class="num">{{.Totals.OtherExpenses}}</td><td>Desconto</td><td class="num">{{.Totals.Discount}}</td><td><strong>Total da nota</strong></td><td class="num"><strong>{{.Totals.Total}}</strong></td></tr>
  </table>

  {{with .Observations}}<h3>Dados adicionais</h3><div class="box">{{.}}</div>{{end}}
</body>
</html>
`))

// RenderHTML renders the printable DANFE page.
func RenderHTML(p Preview) ([]byte, error) {
	var buf bytes.Buffer
	if err := danfeHTMLTmpl.Execute(&buf, p); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
