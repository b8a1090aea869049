package reasoner

// Prompt templates. Every template demands JSON-only output; the parsers in
// client.go tolerate code-fence noise around the payload but nothing else.

const regulatoryImpactPrompt = `TASK: You are a Senior Compliance Officer and Regulatory Expert. Analyze the following regulatory update text against our current JSON ruleset and determine if any specific values need to change.

CURRENT RULESET (JSON):
%s

NEW REGULATORY TEXT:
%s

INSTRUCTIONS:
1. Carefully read the regulatory update and identify if it mandates a SPECIFIC change to any value in our ruleset.
2. Look for changes to:
   - Dollar thresholds (income limits, investment minimums, asset thresholds)
   - Time periods (holding periods, lockup days, filing deadlines)
   - Investor limits (max investors, caps)
   - Boolean flags (general solicitation allowed, accreditation required)
   - New exemption types or categories
3. If a change is needed, identify the EXACT dot-notation path to the JSON field.
4. Extract both the old value (from current rules) and the new value (from regulatory text).
5. Note if this requires immediate action or has a future effective date.

OUTPUT FORMAT (JSON ONLY - no markdown, no explanation outside JSON):
{
    "is_relevant": true,
    "confidence": 0.95,
    "summary": "Brief description of the change",
    "target_field_path": "path.to.field.in.json",
    "old_value": <current value>,
    "new_value": <new value from regulation>,
    "reasoning": "Why this change is needed based on the regulatory text",
    "effective_date": "2025-01-01 or null if immediate",
    "requires_immediate_action": false
}

If the regulatory text does NOT mandate a specific change to our ruleset values, respond with:
{
    "is_relevant": false,
    "confidence": 0.9,
    "summary": "No actionable changes detected",
    "target_field_path": "",
    "old_value": null,
    "new_value": null,
    "reasoning": "Explain why no change is needed"
}

IMPORTANT: Only propose changes for CONCRETE, SPECIFIC value modifications. Do not propose changes for:
- General guidance or interpretations
- Proposed rules (not yet final)
- Changes that don't affect numeric thresholds or boolean flags in our ruleset`

const jurisdictionClassificationPrompt = `You are a securities regulation expert specializing in cross-border compliance.

Analyze the following %s and classify the investor.

Document Content:
%s

Based on the document, determine:
1. Primary jurisdiction (ISO 3166-1 alpha-2 code, e.g., "US", "SG", "GB")
2. Entity type: individual, corporation, llc, partnership, trust, or fund
3. Investor classification based on the jurisdiction:
   - For US: retail, accredited, qualified_purchaser, institutional
   - For Singapore: retail, accredited_investor, expert_investor, institutional_investor
   - For UK/EU: retail, professional, eligible_counterparty
4. List of applicable regulations

Respond ONLY with valid JSON in this exact format:
{"jurisdiction": "XX", "entity_type": "...", "investor_classification": "...", "applicable_regulations": ["..."], "confidence": 0.XX, "reasoning": "..."}`

const conflictResolutionPrompt = `You are a cross-border securities law expert specializing in regulatory harmonization.

Analyze potential regulatory conflicts for this tokenized asset offering:

OFFERING DETAILS:
- Asset Type: %s
- Issuer Jurisdiction: %s
- Target Investor Jurisdictions: %s
- Investor Types Targeted: %s

APPLICABLE REGULATORY RULES:
%s

CONFLICT TYPES TO CHECK:
1. jurisdiction_conflict - Conflicting laws between countries
2. investor_limit_conflict - Different maximum investor caps
3. accreditation_conflict - Different accreditation thresholds
4. lockup_conflict - Different holding period requirements
5. disclosure_conflict - Different document/disclosure requirements

RESOLUTION STRATEGIES:
- apply_strictest: Use the most restrictive rule from all jurisdictions
- jurisdiction_specific: Apply different rules based on investor's jurisdiction
- investor_election: Allow investor to elect applicable regime
- legal_opinion_required: Flag for manual legal review

For each conflict found, propose a resolution.

Respond ONLY with valid JSON in this exact format:
{
  "has_conflicts": true/false,
  "conflicts": [
    {
      "type": "conflict_type_here",
      "jurisdictions": ["XX", "YY"],
      "description": "Brief description of the conflict",
      "rule_a": "Rule from jurisdiction A",
      "rule_b": "Rule from jurisdiction B"
    }
  ],
  "resolutions": [
    {
      "conflict_type": "conflict_type_here",
      "strategy": "resolution_strategy",
      "resolved_requirement": "The final requirement to apply",
      "rationale": "Why this resolution was chosen"
    }
  ],
  "combined_requirements": {
    "accredited_only": true/false,
    "min_investment": 0,
    "max_investors": 0,
    "lockup_days": 0,
    "required_disclosures": ["list", "of", "required", "documents"],
    "transfer_restrictions": "description of restrictions"
  },
  "confidence": 0.XX
}`

const tokenValidationPrompt = `You are a regulatory compliance validator for tokenized securities.

Validate the proposed compliance rules against regulatory requirements:

PROPOSED TOKEN CONFIGURATION:
- Asset Type: %s
- Target Jurisdictions: %s
- Proposed Rules:
  - Accredited Only: %t
  - Max Investors: %d
  - Lockup Period: %d days
  - Min Investment: $%.2f
  - Allowed Jurisdictions: %s

REGULATORY REQUIREMENTS FOR THESE JURISDICTIONS:
%s

Check for:
1. Rules that violate regulatory minimums (e.g., lockup too short)
2. Rules that exceed regulatory maximums (e.g., too many investors)
3. Missing required restrictions
4. Contradictory rules
5. Jurisdiction restrictions that don't match allowed investor types

Respond ONLY with valid JSON:
{
  "valid": true/false,
  "violations": [
    {
      "rule": "which_rule_violated",
      "issue": "description of violation",
      "required_value": "what the rule should be",
      "proposed_value": "what was proposed",
      "severity": "error/warning"
    }
  ],
  "suggestions": [
    {
      "rule": "which_rule_to_change",
      "suggested_value": "recommended value",
      "rationale": "why this change is needed"
    }
  ],
  "confidence": 0.XX
}`
