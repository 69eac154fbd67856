package model

import (
	"sort"

	"github.com/c360/espclient/xmltree"
)

// Feature is a child element family a window kind supports
type Feature uint

const (
	FeatureSchema Feature = 1 << iota
	FeatureRetention
	FeatureExpression
	FeatureConnectors
	FeatureParameters
	FeatureInputMap
	FeatureOutputMap
)

// Window kinds. The XML element of a window is "window-" + kind.
const (
	KindSource          = "source"
	KindCopy            = "copy"
	KindCompute         = "compute"
	KindAggregate       = "aggregate"
	KindJoin            = "join"
	KindCalculate       = "calculate"
	KindScore           = "score"
	KindTrain           = "train"
	KindProcedural      = "procedural"
	KindTranspose       = "transpose"
	KindRemoveState     = "remove-state"
	KindObjectTracker   = "object-tracker"
	KindModelReader     = "model-reader"
	KindTextTopic       = "texttopic"
	KindGeofence        = "geofence"
	KindNotification    = "notification"
	KindModelSupervisor = "model-supervisor"
	KindFilter          = "filter"
	KindFunctional      = "functional"
	KindCounter         = "counter"
	KindPattern         = "pattern"
	KindUnion           = "union"
	KindTextCategory    = "textcategory"
	KindTextContext     = "textcontext"
	KindTextSentiment   = "textsentiment"
)

const indexValues = ":enum:rbtree>pi_RBTREE|hash>pi_HASH|ln_hash>pi_LN_HASH|cl_hash>pi_CL_HASH|fw_hash>pi_FW_HASH|empty>pi_EMPTY"

var (
	// baseAttrs covers windows that only take the pubsub flag
	baseAttrs = xmltree.NewTable(xmltree.MustFields("pubsub:bool")...)

	standardAttrs = baseAttrs.Extend(xmltree.MustFields(
		"output-insert-only:bool",
		"collapse-updates:bool",
		"pulse-interval",
		"exp-max-string:int",
		"index"+indexValues,
		"pubsub-index"+indexValues,
	)...)

	analyticAttrs = baseAttrs.Extend(xmltree.MustFields(
		"algorithm",
		"index"+indexValues,
		"output-insert-only:bool",
		"produces-only-inserts:bool",
	)...)
)

const standardFeatures = FeatureConnectors

type windowKind struct {
	attrs    *xmltree.Table
	features Feature
}

var windowKinds = map[string]windowKind{
	KindSource: {
		attrs:    standardAttrs.Extend(xmltree.MustFields("insert-only:bool", "autogen-key:bool")...),
		features: standardFeatures | FeatureSchema | FeatureRetention,
	},
	KindCopy:      {attrs: standardAttrs, features: standardFeatures | FeatureRetention},
	KindCompute:   {attrs: standardAttrs, features: standardFeatures | FeatureSchema},
	KindAggregate: {attrs: standardAttrs, features: standardFeatures | FeatureSchema},
	KindJoin:      {attrs: standardAttrs, features: standardFeatures},
	KindCalculate: {
		attrs:    analyticAttrs,
		features: FeatureSchema | FeatureParameters | FeatureInputMap | FeatureOutputMap | FeatureConnectors,
	},
	KindScore: {attrs: analyticAttrs, features: FeatureSchema | FeatureConnectors},
	KindTrain: {
		attrs:    baseAttrs.Extend(xmltree.MustFields("algorithm")...),
		features: FeatureParameters | FeatureInputMap | FeatureConnectors,
	},
	KindProcedural: {
		attrs:    standardAttrs.Extend(xmltree.MustFields("produces-only-inserts:bool")...),
		features: standardFeatures | FeatureSchema,
	},
	KindTranspose: {
		attrs: standardAttrs.Extend(xmltree.MustFields(
			"mode", "tag-name", "tag-values", "tags-included", "group-by", "clear-timeout")...),
		features: standardFeatures,
	},
	KindRemoveState: {
		attrs:    standardAttrs.Extend(xmltree.MustFields("remove", "add-log-fields")...),
		features: standardFeatures,
	},
	KindObjectTracker: {attrs: standardAttrs, features: standardFeatures},
	KindModelReader: {
		attrs:    baseAttrs.Extend(xmltree.MustFields("model-type:enum:astore|recommender")...),
		features: FeatureParameters | FeatureConnectors,
	},
	KindTextTopic: {
		attrs: standardAttrs.Extend(xmltree.MustFields(
			"astore-file", "ta-path", "text-field", "include-topic-name:bool")...),
		features: standardFeatures,
	},
	KindGeofence:     {attrs: standardAttrs, features: standardFeatures},
	KindNotification: {attrs: baseAttrs, features: FeatureSchema | FeatureConnectors},
	KindModelSupervisor: {
		attrs:    baseAttrs.Extend(xmltree.MustFields("deployment-policy:enum:immediate|on-demand", "capacity:int")...),
		features: FeatureConnectors,
	},
	KindFilter:     {attrs: standardAttrs, features: standardFeatures | FeatureExpression},
	KindFunctional: {attrs: standardAttrs, features: standardFeatures | FeatureSchema},
	KindCounter: {
		attrs:    standardAttrs.Extend(xmltree.MustFields("count-interval", "clear-interval")...),
		features: standardFeatures,
	},
	KindPattern: {attrs: standardAttrs, features: standardFeatures | FeatureSchema},
	KindUnion: {
		attrs:    standardAttrs.Extend(xmltree.MustFields("strict:bool")...),
		features: standardFeatures,
	},
	KindTextCategory: {
		attrs:    standardAttrs.Extend(xmltree.MustFields("mco-file", "text-field", "generate-nulls:bool")...),
		features: standardFeatures,
	},
	KindTextContext: {
		attrs:    standardAttrs.Extend(xmltree.MustFields("liti-files", "text-field", "generate-nulls:bool")...),
		features: standardFeatures,
	},
	KindTextSentiment: {
		attrs:    standardAttrs.Extend(xmltree.MustFields("sam-file", "text-field")...),
		features: standardFeatures,
	},
}

// Kinds returns every window kind, sorted
func Kinds() []string {
	out := make([]string, 0, len(windowKinds))
	for k := range windowKinds {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// KindFromTag maps an element tag such as "window-source" to its kind
func KindFromTag(tag string) (string, bool) {
	const prefix = "window-"
	if len(tag) <= len(prefix) || tag[:len(prefix)] != prefix {
		return "", false
	}
	kind := tag[len(prefix):]
	_, ok := windowKinds[kind]
	return kind, ok
}
