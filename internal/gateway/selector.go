package gateway

// countryRoute is per-country primary/backup provider names
type countryRoute struct {
	primary string
	backup  string
}

var productionRoutes = map[string]countryRoute{
	"US": {primary: "stripe", backup: "square"},
	"IN": {primary: "razorpay", backup: "stripe"},
	"GB": {primary: "stripe", backup: "worldpay"},
	"SG": {primary: "stripe", backup: "adyen"},
}

const defaultProductionProvider = "stripe"

// Selector resolves the gateway serving a country and payment method.
// Resolution is a pure function of (environment, country, method type).
type Selector struct {
	environment string
	loopback    Gateway
	providers   map[string]Gateway
}

// NewSelector creates new Selector instance. providers maps provider name to
// its gateway client; only consulted in production.
func NewSelector(environment string, loopback Gateway, providers map[string]Gateway) *Selector {
	return &Selector{
		environment: environment,
		loopback:    loopback,
		providers:   providers,
	}
}

// Select returns the gateway for the given country and payment method type.
// When the country's primary provider is not configured its backup serves the
// traffic, then the global default, then the loopback.
func (s *Selector) Select(countryCode, methodType string) Gateway {
	if s.environment != "production" {
		return s.loopback
	}

	for _, name := range s.resolveNames(countryCode, methodType) {
		if gw, ok := s.providers[name]; ok {
			return gw
		}
	}
	if gw, ok := s.providers[defaultProductionProvider]; ok {
		return gw
	}

	// no provider configured, stay functional
	return s.loopback
}

func (s *Selector) resolveNames(countryCode, methodType string) []string {
	// UPI settles through razorpay regardless of the country route
	if countryCode == "IN" && methodType == "upi" {
		return []string{"razorpay"}
	}

	route, ok := productionRoutes[countryCode]
	if !ok || route.primary == "" {
		return []string{defaultProductionProvider}
	}

	return []string{route.primary, route.backup}
}
