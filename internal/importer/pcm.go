package importer

import (
	"encoding/xml"
	"io"
	"strconv"
	"strings"

	"github.com/bartek5186/posync/internal/db"
	"github.com/shopspring/decimal"
	"golang.org/x/net/html/charset"
)

// pozycja magazynowa towaru
type xmlMagazyn struct {
	MagazynID  int64  `xml:"magazyn_id"`
	Stan       string `xml:"stan_magazynu"`     // może być "", więc string
	Rezerwacja string `xml:"rezerwacja_ilosci"` // jw.
}

type xmlTowar struct {
	TowarID     int64  `xml:"towar_id"`
	Kod         string `xml:"kod"` // EAN
	Nazwa       string `xml:"nazwa"`
	KategoriaID string `xml:"kategoria_id"` // bywa puste → string
	DoUsuniecia string `xml:"do_usuniecia"` // "Y"/"N"
	AktywnyWSI  string `xml:"aktywny_w_SI"` // "Y"/"N"
	CenaDetal   string `xml:"cena_detal"`

	Magazyny []xmlMagazyn `xml:"magazyny>magazyn"`
}

// Export to wynik parsowania jednego pliku exp_wyk_*.xml
type Export struct {
	TransmisjaID string
	Products     []db.Product
	Removed      []string // id produktów oznaczonych do_usuniecia
}

// ParseExport czyta eksport PC-Market strumieniowo, z obsługą ISO-8859-2 / CP1250.
func ParseExport(r io.Reader) (*Export, error) {
	dec := xml.NewDecoder(r)
	dec.CharsetReader = func(cs string, in io.Reader) (io.Reader, error) {
		return charset.NewReaderLabel(normalizeCharset(cs), in)
	}

	out := &Export{}
	for {
		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		se, ok := tok.(xml.StartElement)
		if !ok {
			continue
		}

		switch {
		// tylko <transmisja_id> – nie połykać całego <dane>
		case strings.EqualFold(se.Name.Local, "transmisja_id"):
			var tid string
			if err := dec.DecodeElement(&tid, &se); err != nil {
				return nil, err
			}
			out.TransmisjaID = strings.TrimSpace(tid)

		case strings.EqualFold(se.Name.Local, "towary"):
			var tw struct {
				Items []xmlTowar `xml:"towar"`
			}
			if err := dec.DecodeElement(&tw, &se); err != nil {
				return nil, err
			}
			for _, t := range tw.Items {
				if t.TowarID == 0 {
					continue
				}
				if yn(t.DoUsuniecia) {
					out.Removed = append(out.Removed, productID(t.TowarID))
					continue
				}
				out.Products = append(out.Products, t.product())
			}
		}
	}
	return out, nil
}

func productID(towarID int64) string {
	return "pcm-" + strconv.FormatInt(towarID, 10)
}

func (t xmlTowar) product() db.Product {
	stock := decimal.Zero
	for _, m := range t.Magazyny {
		stock = stock.Add(num(m.Stan)).Sub(num(m.Rezerwacja))
	}
	p := db.Product{
		ID:      productID(t.TowarID),
		Barcode: strings.TrimSpace(t.Kod),
		SKU:     strconv.FormatInt(t.TowarID, 10),
		Name:    strings.TrimSpace(t.Nazwa),
		Price:   num(t.CenaDetal),
		Stock:   stock,
		Source:  "pcm",
	}
	if k := strings.TrimSpace(t.KategoriaID); k != "" && k != "0" {
		p.CategoryID = "pcm-" + k
	}
	return p
}

// normalizeCharset mapuje nietypowe etykiety na standardowe nazwy rozpoznawane przez charset.NewReaderLabel
func normalizeCharset(cs string) string {
	c := strings.TrimSpace(strings.ToLower(cs))
	switch c {
	case "latin ii", "latin-2", "latin2", "iso8859-2", "iso_8859-2":
		return "iso-8859-2"
	case "cp1250", "windows1250", "win-1250":
		return "windows-1250"
	default:
		return c
	}
}

func yn(s string) bool {
	switch strings.TrimSpace(strings.ToUpper(s)) {
	case "Y", "T", "1", "TAK":
		return true
	default:
		return false
	}
}

// num: kwoty i ilości, przecinek albo kropka; śmieci => 0
func num(s string) decimal.Decimal {
	s = strings.ReplaceAll(strings.TrimSpace(s), ",", ".")
	if s == "" {
		return decimal.Zero
	}
	v, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return v
}
