package adops

// Remote operation discriminators. The remote bulk endpoint requires all
// envelopes of one discriminator to be uploaded contiguously.
const (
	EnvelopeBudget            = "BudgetOperation"
	EnvelopeCampaign          = "CampaignOperation"
	EnvelopeCampaignCriterion = "CampaignCriterionOperation"
	EnvelopeAdGroup           = "AdGroupOperation"
	EnvelopeAdGroupCriterion  = "AdGroupCriterionOperation"
	EnvelopeAdGroupAd         = "AdGroupAdOperation"
	EnvelopeLabel             = "LabelOperation"
	EnvelopeAttachLabel       = "AttachLabelOperation"
	EnvelopeSharedSet         = "SharedSetOperation"
	EnvelopeCampaignSharedSet = "CampaignSharedSetOperation"
	EnvelopeSharedCriterion   = "SharedCriterionOperation"
	EnvelopeManagedCustomer   = "ManagedCustomerOperation"
	EnvelopeBudgetOrder       = "BudgetOrderOperation"
)

type fieldValues map[string]any

func (f fieldValues) has(name string) bool {
	value, ok := f[name]
	return ok && value != nil
}

func (f fieldValues) int64Of(name string) (int64, bool) {
	value, ok := f[name].(int64)
	return value, ok
}

func (f fieldValues) stringOf(name string) (string, bool) {
	value, ok := f[name].(string)
	return value, ok && value != ""
}

func (f fieldValues) stringOr(name, fallback string) string {
	if value, ok := f.stringOf(name); ok {
		return value
	}
	return fallback
}

type buildFunc func(d *Dispatcher, op Operation, f fieldValues) ([]Envelope, error)

type entitySpec struct {
	// required fields fail the operation when they are present but do not
	// coerce; optional fields are silently dropped instead.
	required  map[string]bool
	syncOnly  bool
	asyncOnly bool
	build     buildFunc
}

var entitySpecs = map[string]entitySpec{
	"campaign": {
		required:  requiredFields("campaign_id", "budget", "budget_id"),
		asyncOnly: true,
		build:     buildCampaign,
	},
	"adgroup": {
		required: requiredFields("campaign_id", "adgroup_id"),
		build:    buildAdGroup,
	},
	"keyword": {
		required: requiredFields("adgroup_id", "criteria_id", "cpc_bid"),
		build:    buildKeyword,
	},
	"ad": {
		required: requiredFields("adgroup_id", "ad_id"),
		build:    buildAd,
	},
	"label": {
		required: requiredFields("label"),
		build:    buildLabel,
	},
	"attach_label": {
		required: requiredFields("label_id"),
		syncOnly: true,
		build:    buildAttachLabel,
	},
	"shared_set": {
		required: requiredFields("shared_set_id"),
		build:    buildSharedSet,
	},
	"campaign_shared_set": {
		required: requiredFields("campaign_id", "shared_set_id"),
		build:    buildCampaignSharedSet,
	},
	"shared_criterion": {
		required: requiredFields("shared_set_id", "criterion_id"),
		build:    buildSharedCriterion,
	},
	"managed_customer": {
		syncOnly: true,
		build:    buildManagedCustomer,
	},
	"budget_order": {
		required: requiredFields("budget_order", "start_date_time", "end_date_time"),
		syncOnly: true,
		build:    buildBudgetOrder,
	},
	"campaign_language": {
		required: requiredFields("campaign_id", "language_id"),
		build:    buildCampaignCriterion("Language", "language_id"),
	},
	"campaign_targeted_location": {
		required: requiredFields("campaign_id", "location_id"),
		build:    buildCampaignCriterion("Location", "location_id"),
	},
	"campaign_ad_schedule": {
		required: requiredFields("campaign_id"),
		build:    buildAdSchedule,
	},
}

func requiredFields(names ...string) map[string]bool {
	set := make(map[string]bool, len(names))
	for _, name := range names {
		set[name] = true
	}
	return set
}

func buildBudgetEnvelope(f fieldValues) Envelope {
	operand := map[string]any{}
	if budgetID, ok := f.int64Of("budget_id"); ok {
		operand["budgetId"] = budgetID
	}
	if amount, ok := f["budget"].(int64); ok {
		operand["amount"] = money(amount)
	}
	operand["deliveryMethod"] = f.stringOr("delivery", "ACCELERATED")
	if name, ok := f.stringOf("budget_name"); ok {
		operand["isExplicitlyShared"] = true
		operand["name"] = name
	} else {
		operand["isExplicitlyShared"] = false
	}
	return Envelope{Kind: EnvelopeBudget, Verb: VerbAdd, Operand: operand}
}

func buildCampaign(d *Dispatcher, op Operation, f fieldValues) ([]Envelope, error) {
	var envelopes []Envelope

	// The parent budget must be created in the same submission when none is
	// referenced; its envelope is emitted first so the remote system resolves
	// the temporary id before the campaign references it.
	if op.Verb == VerbAdd && !f.has("budget_id") {
		f["budget_id"] = d.NextTempID()
		envelopes = append(envelopes, buildBudgetEnvelope(f))
	}

	operand := map[string]any{
		"status": f.stringOr("status", defaultStatus(op.Verb)),
	}
	if campaignID, ok := f.int64Of("campaign_id"); ok {
		operand["id"] = campaignID
	}
	if name, ok := f.stringOf("campaign_name"); ok {
		operand["name"] = name
	}
	if budgetID, ok := f.int64Of("budget_id"); ok {
		operand["budget"] = map[string]any{"budgetId": budgetID}
	}
	operand["biddingStrategyConfiguration"] = map[string]any{"biddingStrategyType": "MANUAL_CPC"}
	operand["advertisingChannelType"] = f.stringOr("advertising_channel", "SEARCH")
	envelopes = append(envelopes, Envelope{Kind: EnvelopeCampaign, Verb: op.Verb, Operand: operand})

	// Target fan-out follows the primary envelope.
	campaignID, _ := f.int64Of("campaign_id")
	for _, raw := range listOf(f["languages"]) {
		languageID, err := toInt64(raw)
		if err != nil {
			return nil, &FieldError{ObjectType: op.ObjectType, Field: "languages", Reason: err.Error()}
		}
		envelopes = append(envelopes, criterionEnvelope(campaignID, "Language", languageID, VerbAdd))
	}
	for _, raw := range listOf(f["locations"]) {
		locationID, err := toInt64(raw)
		if err != nil {
			return nil, &FieldError{ObjectType: op.ObjectType, Field: "locations", Reason: err.Error()}
		}
		envelopes = append(envelopes, criterionEnvelope(campaignID, "Location", locationID, VerbAdd))
	}
	return envelopes, nil
}

func buildAdGroup(d *Dispatcher, op Operation, f fieldValues) ([]Envelope, error) {
	operand := map[string]any{
		"status": f.stringOr("status", defaultStatus(op.Verb)),
	}
	if campaignID, ok := f.int64Of("campaign_id"); ok {
		operand["campaignId"] = campaignID
	}
	if adgroupID, ok := f.int64Of("adgroup_id"); ok {
		operand["id"] = adgroupID
	}
	if name, ok := f.stringOf("adgroup_name"); ok {
		operand["name"] = name
	}
	return []Envelope{{Kind: EnvelopeAdGroup, Verb: op.Verb, Operand: operand}}, nil
}

func buildKeyword(d *Dispatcher, op Operation, f fieldValues) ([]Envelope, error) {
	adgroupID, ok := f.int64Of("adgroup_id")
	if !ok {
		return nil, &FieldError{ObjectType: op.ObjectType, Field: "adgroup_id", Reason: "missing"}
	}
	status := f.stringOr("status", "")
	if status == "" && op.Verb == VerbAdd {
		status = "PAUSED"
	}
	criterion := map[string]any{"type": "Keyword"}
	if criteriaID, ok := f.int64Of("criteria_id"); ok {
		criterion["id"] = criteriaID
	}
	operand := map[string]any{
		"type":      "BiddableAdGroupCriterion",
		"adGroupId": adgroupID,
		"criterion": criterion,
	}
	if status != "" {
		operand["userStatus"] = status
	}
	text, hasText := f.stringOf("text")
	matchType, hasMatch := f.stringOf("keyword_match_type")
	if status != "REMOVED" && hasText && hasMatch {
		criterion["text"] = text
		criterion["matchType"] = matchType
	}
	if bid, ok := f["cpc_bid"].(int64); ok && status != "REMOVED" {
		operand["biddingStrategyConfiguration"] = map[string]any{
			"bids": []any{map[string]any{"type": "CpcBid", "bid": money(bid)}},
		}
	}
	return []Envelope{{Kind: EnvelopeAdGroupCriterion, Verb: op.Verb, Operand: operand}}, nil
}

func buildAd(d *Dispatcher, op Operation, f fieldValues) ([]Envelope, error) {
	adgroupID, ok := f.int64Of("adgroup_id")
	if !ok {
		return nil, &FieldError{ObjectType: op.ObjectType, Field: "adgroup_id", Reason: "missing"}
	}
	var ad map[string]any
	if op.Verb == VerbAdd {
		ad = map[string]any{
			"type":          "ExpandedTextAd",
			"headlinePart1": f.stringOr("headline_part_1", ""),
			"headlinePart2": f.stringOr("headline_part_2", ""),
			"description":   f.stringOr("description", ""),
			"path1":         f.stringOr("path_1", ""),
			"path2":         f.stringOr("path_2", ""),
		}
		if urls, ok := f["final_urls"].([]string); ok && len(urls) > 0 {
			ad["finalUrls"] = urls
		}
	} else {
		ad = map[string]any{"type": "Ad"}
		if adID, ok := f.int64Of("ad_id"); ok {
			ad["id"] = adID
		}
	}
	operand := map[string]any{
		"adGroupId": adgroupID,
		"ad":        ad,
		"status":    f.stringOr("status", "PAUSED"),
	}
	return []Envelope{{Kind: EnvelopeAdGroupAd, Verb: op.Verb, Operand: operand}}, nil
}

func buildLabel(d *Dispatcher, op Operation, f fieldValues) ([]Envelope, error) {
	label, ok := f.stringOf("label")
	if !ok {
		return nil, &FieldError{ObjectType: op.ObjectType, Field: "label", Reason: "missing"}
	}
	operand := map[string]any{"type": "TextLabel", "name": label}
	return []Envelope{{Kind: EnvelopeLabel, Verb: op.Verb, Operand: operand}}, nil
}

func buildAttachLabel(d *Dispatcher, op Operation, f fieldValues) ([]Envelope, error) {
	labelID, ok := f.int64Of("label_id")
	if !ok {
		return nil, &FieldError{ObjectType: op.ObjectType, Field: "label_id", Reason: "missing"}
	}
	operand := map[string]any{"labelId": labelID}
	for field, key := range map[string]string{
		"campaign_id":  "campaignId",
		"adgroup_id":   "adGroupId",
		"ad_id":        "adId",
		"criterion_id": "criterionId",
		"customer_id":  "customerId",
	} {
		if id, ok := f.int64Of(field); ok {
			operand[key] = id
		}
	}
	return []Envelope{{Kind: EnvelopeAttachLabel, Verb: op.Verb, Operand: operand}}, nil
}

func buildSharedSet(d *Dispatcher, op Operation, f fieldValues) ([]Envelope, error) {
	operand := map[string]any{
		"type": f.stringOr("shared_set_type", "NEGATIVE_KEYWORDS"),
	}
	if sharedSetID, ok := f.int64Of("shared_set_id"); ok {
		operand["sharedSetId"] = sharedSetID
	}
	if name, ok := f.stringOf("shared_set_name"); ok {
		operand["name"] = name
	}
	return []Envelope{{Kind: EnvelopeSharedSet, Verb: op.Verb, Operand: operand}}, nil
}

func buildCampaignSharedSet(d *Dispatcher, op Operation, f fieldValues) ([]Envelope, error) {
	operand := map[string]any{}
	if campaignID, ok := f.int64Of("campaign_id"); ok {
		operand["campaignId"] = campaignID
	}
	if sharedSetID, ok := f.int64Of("shared_set_id"); ok {
		operand["sharedSetId"] = sharedSetID
	}
	return []Envelope{{Kind: EnvelopeCampaignSharedSet, Verb: op.Verb, Operand: operand}}, nil
}

func buildSharedCriterion(d *Dispatcher, op Operation, f fieldValues) ([]Envelope, error) {
	sharedSetID, ok := f.int64Of("shared_set_id")
	if !ok {
		return nil, &FieldError{ObjectType: op.ObjectType, Field: "shared_set_id", Reason: "missing"}
	}
	criterion := map[string]any{"type": "Keyword"}
	if criterionID, ok := f.int64Of("criterion_id"); ok {
		criterion["id"] = criterionID
	}
	if text, ok := f.stringOf("text"); ok {
		criterion["text"] = text
		criterion["matchType"] = f.stringOr("match_type", "BROAD")
	}
	operand := map[string]any{
		"sharedSetId": sharedSetID,
		"criterion":   criterion,
		"negative":    true,
	}
	return []Envelope{{Kind: EnvelopeSharedCriterion, Verb: op.Verb, Operand: operand}}, nil
}

func buildManagedCustomer(d *Dispatcher, op Operation, f fieldValues) ([]Envelope, error) {
	operand := map[string]any{}
	if name, ok := f.stringOf("name"); ok {
		operand["name"] = name
	}
	if currency, ok := f.stringOf("currency_code"); ok {
		operand["currencyCode"] = currency
	}
	if timezone, ok := f.stringOf("timezone"); ok {
		operand["dateTimeZone"] = timezone
	}
	return []Envelope{{Kind: EnvelopeManagedCustomer, Verb: op.Verb, Operand: operand}}, nil
}

func buildBudgetOrder(d *Dispatcher, op Operation, f fieldValues) ([]Envelope, error) {
	operand := map[string]any{}
	if amount, ok := f["budget_order"].(int64); ok {
		operand["spendingLimit"] = money(amount)
	}
	if start, ok := f.stringOf("start_date_time"); ok {
		operand["startDateTime"] = start
	}
	if end, ok := f.stringOf("end_date_time"); ok {
		operand["endDateTime"] = end
	}
	if accountID, ok := f.int64Of("billing_account_id"); ok {
		operand["billingAccountId"] = accountID
	}
	return []Envelope{{Kind: EnvelopeBudgetOrder, Verb: op.Verb, Operand: operand}}, nil
}

func buildCampaignCriterion(criterionType, idField string) buildFunc {
	return func(d *Dispatcher, op Operation, f fieldValues) ([]Envelope, error) {
		campaignID, ok := f.int64Of("campaign_id")
		if !ok {
			return nil, &FieldError{ObjectType: op.ObjectType, Field: "campaign_id", Reason: "missing"}
		}
		id, ok := f.int64Of(idField)
		if !ok {
			return nil, &FieldError{ObjectType: op.ObjectType, Field: idField, Reason: "missing"}
		}
		return []Envelope{criterionEnvelope(campaignID, criterionType, id, op.Verb)}, nil
	}
}

func buildAdSchedule(d *Dispatcher, op Operation, f fieldValues) ([]Envelope, error) {
	campaignID, ok := f.int64Of("campaign_id")
	if !ok {
		return nil, &FieldError{ObjectType: op.ObjectType, Field: "campaign_id", Reason: "missing"}
	}
	criterion := map[string]any{
		"type":      "AdSchedule",
		"dayOfWeek": f.stringOr("schedule_day", ""),
	}
	for field, key := range map[string]string{
		"start_hour":   "startHour",
		"start_minute": "startMinute",
		"end_hour":     "endHour",
		"end_minute":   "endMinute",
	} {
		if value, ok := f.int64Of(field); ok {
			criterion[key] = value
		}
	}
	operand := map[string]any{
		"campaignId": campaignID,
		"criterion":  criterion,
	}
	return []Envelope{{Kind: EnvelopeCampaignCriterion, Verb: op.Verb, Operand: operand}}, nil
}

func criterionEnvelope(campaignID int64, criterionType string, id int64, verb Verb) Envelope {
	return Envelope{
		Kind: EnvelopeCampaignCriterion,
		Verb: verb,
		Operand: map[string]any{
			"campaignId": campaignID,
			"criterion": map[string]any{
				"type": criterionType,
				"id":   id,
			},
		},
	}
}

func defaultStatus(verb Verb) string {
	if verb == VerbRemove {
		return "REMOVED"
	}
	return "PAUSED"
}

func money(micros int64) map[string]any {
	return map[string]any{"microAmount": micros}
}

func listOf(value any) []any {
	switch v := value.(type) {
	case []any:
		return v
	case []int64:
		items := make([]any, len(v))
		for i, item := range v {
			items[i] = item
		}
		return items
	case nil:
		return nil
	default:
		return []any{v}
	}
}
