package response

import "strings"

// AdapterModel is the interface chip family reported by ATZ/ATI.
type AdapterModel int

const (
	ModelUnknown AdapterModel = iota
	ModelELM320
	ModelELM322
	ModelELM323
	ModelELM327
	ModelOBDLink
	ModelSTN
	ModelELM
)

func (m AdapterModel) String() string {
	switch m {
	case ModelELM320:
		return "ELM320"
	case ModelELM322:
		return "ELM322"
	case ModelELM323:
		return "ELM323"
	case ModelELM327:
		return "ELM327"
	case ModelOBDLink:
		return "OBDLink"
	case ModelSTN:
		return "STN"
	case ModelELM:
		return "ELM"
	default:
		return "UNKNOWN"
	}
}

func (m AdapterModel) MarshalText() ([]byte, error) {
	return []byte(m.String()), nil
}

// most specific banners first
var adapterBanners = []struct {
	text  string
	model AdapterModel
}{
	{"OBDLINK", ModelOBDLink},
	{"STN", ModelSTN},
	{"ELM320", ModelELM320},
	{"ELM322", ModelELM322},
	{"ELM323", ModelELM323},
	{"ELM327", ModelELM327},
	{"ELM", ModelELM},
}

// Identify inspects a reset banner or ATI reply.
func Identify(reply string) AdapterModel {
	upper := strings.ToUpper(reply)
	for _, b := range adapterBanners {
		if strings.Contains(upper, b.text) {
			return b.model
		}
	}
	return ModelUnknown
}
