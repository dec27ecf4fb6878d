// Package catalog turns raw product, client and transporter listings into
// strict domain values and resolves product ids for the cart.
//
// All knowledge of legacy field aliases lives in this file.
package catalog

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/fabirmss/notaFi/internal/domain"
	"github.com/fabirmss/notaFi/internal/format"
	"github.com/shopspring/decimal"
)

var hundred = decimal.NewFromInt(100)

var (
	productIDKeys    = []string{"id", "idproduto", "id_produto"}
	productNameKeys  = []string{"descricao", "nome", "name"}
	productPriceKeys = []string{"valor_unitario", "valorunitario", "preco"}
	productICMSKeys  = []string{"aliquota_icms", "icms", "aliq_icms"}
	productIPIKeys   = []string{"aliquota_ipi", "ipi", "aliq_ipi"}
	productCodeKeys  = []string{"codigointerno", "codigo_interno", "codigo"}
	productUnitKeys  = []string{"unidademedida", "unidade_medida", "unidade"}
	productStockKeys = []string{"estoque", "quantidade_estoque"}
	emitterIDKeys    = []string{"idemitente", "id_emitente", "emitter_id"}

	clientIDKeys       = []string{"id", "idcliente", "id_cliente"}
	clientNameKeys     = []string{"nome", "razao_social", "razaosocial", "nome_razao"}
	clientTradeKeys    = []string{"nome_fantasia", "nomefantasia"}
	clientDocumentKeys = []string{"cpf", "cnpj", "cpf_cnpj", "documento"}

	transporterIDKeys       = []string{"id", "idtransportadora", "id_transportadora"}
	transporterNameKeys     = []string{"razao_social", "razaosocial", "nome_razao", "nome"}
	transporterDocumentKeys = []string{"cpf_cnpj", "cnpj", "cpf", "documento"}

	stateRegistrationKeys = []string{"inscricao_estadual", "inscricaoestadual", "ie"}
	addressKeys           = []string{"endereco", "logradouro"}
)

// NormalizeProduct maps a raw product row into a Product. Missing price
// and rate fields become zero; prices are clamped at zero and rates to
// the 0..100 range. Rows without an id are rejected.
func NormalizeProduct(rec domain.Record) (domain.Product, bool) {
	id := stringField(rec, productIDKeys...)
	if id == "" {
		return domain.Product{}, false
	}
	unit := stringField(rec, productUnitKeys...)
	if unit == "" {
		unit = "UN"
	}
	return domain.Product{
		ID:           id,
		EmitterID:    stringField(rec, emitterIDKeys...),
		Name:         stringField(rec, productNameKeys...),
		InternalCode: stringField(rec, productCodeKeys...),
		NCM:          stringField(rec, "ncm"),
		Unit:         unit,
		UnitPrice:    nonNegative(decimalField(rec, productPriceKeys...)),
		ICMSRate:     clampRate(decimalField(rec, productICMSKeys...)),
		IPIRate:      clampRate(decimalField(rec, productIPIKeys...)),
		Stock:        decimalField(rec, productStockKeys...),
	}, true
}

// NormalizeClient maps a raw client row. The display name falls back from
// the personal name to the legal name.
func NormalizeClient(rec domain.Record) (domain.Client, bool) {
	id := stringField(rec, clientIDKeys...)
	if id == "" {
		return domain.Client{}, false
	}
	doc := format.Digits(stringField(rec, clientDocumentKeys...))
	kind := strings.ToUpper(stringField(rec, "tipo", "tipo_pessoa", "kind"))
	if kind != domain.ClientKindPerson && kind != domain.ClientKindCompany {
		kind = domain.ClientKindCompany
		if len(doc) == 11 {
			kind = domain.ClientKindPerson
		}
	}
	name := stringField(rec, clientNameKeys...)
	if name == "" {
		name = stringField(rec, clientTradeKeys...)
	}
	return domain.Client{
		ID:                id,
		EmitterID:         stringField(rec, emitterIDKeys...),
		Kind:              kind,
		Name:              name,
		TradeName:         stringField(rec, clientTradeKeys...),
		Document:          doc,
		StateRegistration: stringField(rec, stateRegistrationKeys...),
		Email:             stringField(rec, "email"),
		Phone:             stringField(rec, "telefone", "fone"),
		Address:           stringField(rec, addressKeys...),
		Neighborhood:      stringField(rec, "bairro"),
		City:              stringField(rec, "municipio", "cidade"),
		State:             strings.ToUpper(stringField(rec, "uf")),
		CEP:               format.Digits(stringField(rec, "cep")),
	}, true
}

func NormalizeTransporter(rec domain.Record) (domain.Transporter, bool) {
	id := stringField(rec, transporterIDKeys...)
	if id == "" {
		return domain.Transporter{}, false
	}
	return domain.Transporter{
		ID:                id,
		EmitterID:         stringField(rec, emitterIDKeys...),
		Name:              stringField(rec, transporterNameKeys...),
		Document:          format.Digits(stringField(rec, transporterDocumentKeys...)),
		StateRegistration: stringField(rec, stateRegistrationKeys...),
		Address:           stringField(rec, addressKeys...),
		City:              stringField(rec, "municipio", "cidade"),
		State:             strings.ToUpper(stringField(rec, "uf")),
		Plate:             strings.ToUpper(stringField(rec, "placa", "placa_veiculo")),
	}, true
}

func Products(records []domain.Record) []domain.Product {
	out := make([]domain.Product, 0, len(records))
	for _, rec := range records {
		if p, ok := NormalizeProduct(rec); ok {
			out = append(out, p)
		}
	}
	return out
}

func Clients(records []domain.Record) []domain.Client {
	out := make([]domain.Client, 0, len(records))
	for _, rec := range records {
		if c, ok := NormalizeClient(rec); ok {
			out = append(out, c)
		}
	}
	return out
}

func Transporters(records []domain.Record) []domain.Transporter {
	out := make([]domain.Transporter, 0, len(records))
	for _, rec := range records {
		if t, ok := NormalizeTransporter(rec); ok {
			out = append(out, t)
		}
	}
	return out
}

// stringField returns the first non-empty value among keys.
func stringField(rec domain.Record, keys ...string) string {
	for _, key := range keys {
		raw, ok := rec[key]
		if !ok || raw == nil {
			continue
		}
		var s string
		switch v := raw.(type) {
		case string:
			s = v
		case json.Number:
			s = v.String()
		case float64:
			s = decimal.NewFromFloat(v).String()
		case int, int32, int64:
			s = fmt.Sprintf("%d", v)
		default:
			s = fmt.Sprint(v)
		}
		if s = strings.TrimSpace(s); s != "" {
			return s
		}
	}
	return ""
}

// decimalField returns the first parseable numeric value among keys, or
// zero when none is present.
func decimalField(rec domain.Record, keys ...string) decimal.Decimal {
	for _, key := range keys {
		raw, ok := rec[key]
		if !ok || raw == nil {
			continue
		}
		if d, ok := toDecimal(raw); ok {
			return d
		}
	}
	return decimal.Zero
}

func toDecimal(raw any) (decimal.Decimal, bool) {
	switch v := raw.(type) {
	case decimal.Decimal:
		return v, true
	case json.Number:
		d, err := decimal.NewFromString(v.String())
		return d, err == nil
	case float64:
		return decimal.NewFromFloat(v), true
	case float32:
		return decimal.NewFromFloat32(v), true
	case int:
		return decimal.NewFromInt(int64(v)), true
	case int64:
		return decimal.NewFromInt(v), true
	case int32:
		return decimal.NewFromInt32(v), true
	case string:
		return parseLocalized(v)
	default:
		return decimal.Zero, false
	}
}

// parseLocalized accepts both "1234.5" and the pt-BR form "1.234,50".
func parseLocalized(value string) (decimal.Decimal, bool) {
	value = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(value), "R$"))
	if value == "" {
		return decimal.Zero, false
	}
	if strings.Contains(value, ",") {
		value = strings.ReplaceAll(value, ".", "")
		value = strings.ReplaceAll(value, ",", ".")
	}
	d, err := decimal.NewFromString(value)
	return d, err == nil
}

func nonNegative(d decimal.Decimal) decimal.Decimal {
	if d.IsNegative() {
		return decimal.Zero
	}
	return d
}

func clampRate(d decimal.Decimal) decimal.Decimal {
	if d.IsNegative() {
		return decimal.Zero
	}
	if d.GreaterThan(hundred) {
		return hundred
	}
	return d
}
