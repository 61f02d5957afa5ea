package dispatch

import "github.com/betlabs/kwai-pipeline/internal/repurchase"

// Kind is a logical event the host application can emit.
type Kind string

const (
	ContentView          Kind = "contentView"
	CompleteRegistration Kind = "completeRegistration"
	InitiatedCheckout    Kind = "initiatedCheckout"
	AddToCart            Kind = "addToCart"
	ButtonClick          Kind = "buttonClick"
	Search               Kind = "search"
	Purchase             Kind = "purchase"
	Purchase1Day         Kind = "purchase1Day"
	Purchase2Day         Kind = "purchase2Day"
	Purchase3Day         Kind = "purchase3Day"
	Purchase7Day         Kind = "purchase7Day"
)

// vendorEventNames maps each logical kind to the upstream event name.
var vendorEventNames = map[Kind]string{
	ContentView:          "EVENT_CONTENT_VIEW",
	CompleteRegistration: "EVENT_COMPLETE_REGISTRATION",
	InitiatedCheckout:    "EVENT_INITIATED_CHECKOUT",
	AddToCart:            "EVENT_ADD_CART",
	ButtonClick:          "EVENT_BUTTON_CLICK",
	Search:               "EVENT_SEARCH",
	Purchase:             "EVENT_PURCHASE",
	Purchase1Day:         "EVENT_PURCHASE_1_DAY",
	Purchase2Day:         "EVENT_PURCHASE_2_DAY",
	Purchase3Day:         "EVENT_PURCHASE_3_DAY",
	Purchase7Day:         "EVENT_PURCHASE_7_DAY",
}

// milestoneKinds maps a follow-up window to its event kind.
var milestoneKinds = map[repurchase.Milestone]Kind{
	repurchase.Day1: Purchase1Day,
	repurchase.Day2: Purchase2Day,
	repurchase.Day3: Purchase3Day,
	repurchase.Day7: Purchase7Day,
}

// EventName resolves the upstream name for a kind.
func EventName(kind Kind) (string, bool) {
	name, ok := vendorEventNames[kind]
	return name, ok
}

// usesPageVerb reports whether the kind goes through the vendor's "page"
// call instead of "track". Only content views do.
func usesPageVerb(kind Kind) bool { return kind == ContentView }
