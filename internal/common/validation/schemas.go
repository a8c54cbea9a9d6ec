package validation

// SubmissionSchema bounds what a founder may submit for analysis.
const SubmissionSchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "properties": {
    "projectName": {"type": "string", "maxLength": 200},
    "problem":     {"type": "string", "maxLength": 5000},
    "solution":    {"type": "string", "maxLength": 5000},
    "description": {"type": "string", "maxLength": 20000},
    "sector":      {"type": "string", "maxLength": 100},
    "chain":       {"type": "string", "maxLength": 100},
    "stage":       {"type": "string", "maxLength": 100},
    "fundingGoal": {"type": "number", "minimum": 0},
    "marketSize":  {"type": "string", "maxLength": 500},
    "tokenomics": {
      "type": "object",
      "properties": {
        "totalSupply": {"type": "number", "minimum": 0},
        "allocations": {"type": "object", "additionalProperties": {"type": "number", "minimum": 0}},
        "vesting":     {"type": "string"}
      }
    },
    "team": {
      "type": "array",
      "maxItems": 50,
      "items": {
        "type": "object",
        "required": ["name"],
        "properties": {
          "name":     {"type": "string", "minLength": 1},
          "role":     {"type": "string"},
          "linkedin": {"type": "string"}
        }
      }
    },
    "documents": {
      "type": "object",
      "propertyNames": {"enum": ["pitchDeck", "whitepaper", "tokenomics", "roadmap", "logo"]},
      "additionalProperties": {"type": "string"}
    }
  }
}`

// ProviderResultSchema is the contract an LLM provider's JSON must satisfy.
// At least one of score or riskScore must be a number; a null one is derived
// from the other and everything else defaults.
const ProviderResultSchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "anyOf": [
    {"required": ["score"], "properties": {"score": {"type": "number"}}},
    {"required": ["riskScore"], "properties": {"riskScore": {"type": "number"}}}
  ],
  "properties": {
    "score":      {"type": ["number", "null"]},
    "riskScore":  {"type": ["number", "null"]},
    "confidence": {"type": ["number", "null"]},
    "rating":     {"type": "string"},
    "findings": {
      "type": "array",
      "items": {
        "type": "object",
        "properties": {
          "category":  {"type": "string"},
          "finding":   {"type": "string"},
          "source":    {"type": "string"},
          "timestamp": {"type": "string"},
          "evidence":  {"type": "string"}
        }
      }
    },
    "riskDrivers": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["risk"],
        "properties": {
          "risk":        {"type": "string"},
          "severity":    {"type": "string"},
          "remediation": {"type": "string"},
          "evidence":    {"type": "string"}
        }
      }
    },
    "comparableProjects": {"type": "array", "items": {"type": "object"}},
    "marketOutlook":      {"type": "object"},
    "tokenomicsReview":   {"type": "object"},
    "teamAnalysis":       {"type": "object"},
    "unverifiableClaims": {"type": "array", "items": {"type": "string"}},
    "strengths":          {"type": "array", "items": {"type": "string"}},
    "risks":              {"type": "array", "items": {"type": "string"}},
    "recommendations":    {"type": "array", "items": {"type": "string"}},
    "executiveSummary":   {"type": "string"}
  }
}`

// VendorDecisionSchema validates KYC/KYB vendor callbacks.
const VendorDecisionSchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "required": ["subjectId", "stage", "decision"],
  "properties": {
    "subjectId": {"type": "string", "minLength": 1},
    "stage":     {"enum": ["identity_verification", "business_verification"]},
    "decision":  {"enum": ["approved", "rejected", "pending"]},
    "riskScore": {"type": "number"},
    "reasons":   {"type": "array", "items": {"type": "string"}}
  }
}`

var (
	Submission     = MustValidator("submission", SubmissionSchema)
	ProviderResult = MustValidator("provider-result", ProviderResultSchema)
	VendorDecision = MustValidator("vendor-decision", VendorDecisionSchema)
)
