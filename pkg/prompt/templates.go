package prompt

// planFormatInstructions pins the JSON shape the planner must return.
// The decoder in the engine depends on these exact keys.
const planFormatInstructions = `Respond with a single JSON object and nothing else:
{
  "atom_id": "<one of the available atoms>",
  "description": "<one sentence describing the step for the user>",
  "files_used": ["<storage path or known alias>"],
  "inputs": ["<aliases or paths of prior outputs this step consumes>"],
  "output_alias": "<short name for the produced dataset, empty if none>",
  "prompt": "<the exact instruction to hand to the atom>",
  "goal_achieved": <true if the user's goal is already fully satisfied>
}
Rules:
- Atoms that produce a dataset require a non-empty output_alias.
- Reference prior outputs by their alias, never by guessing paths.
- Plan exactly ONE next step. Do not plan ahead.`

// evalFormatInstructions pins the evaluator's JSON shape.
const evalFormatInstructions = `Respond with a single JSON object and nothing else:
{
  "decision": "continue" | "retry_with_correction" | "change_approach" | "complete",
  "reasoning": "<why>",
  "quality_score": <0.0-1.0, optional>,
  "correctness": <true|false>,
  "issues": ["<short issue descriptions>"],
  "corrected_prompt": "<only when decision is retry_with_correction>",
  "alternative_approach": "<only when decision is change_approach>"
}
Decide "complete" only when the user's goal is fully satisfied by the
executed steps.`

const planTaskFocus = `You are the planning brain of a data-analysis workflow.
Decide the single next atom to run toward the user's goal.`

const evalTaskFocus = `You are the grader of a data-analysis workflow step.
Judge whether the step's result moves the user's goal forward.`

const stepInsightInstructions = `Write a short markdown narrative with exactly
these sections: "### Summary", "### What we obtained", "### Ready for next step".
Two sentences per section at most. No preamble.`

const atomInsightInstructions = `Respond with a single JSON object and nothing else:
{"insight": "...", "impact": "...", "risk": "...", "next_action": "..."}
One sentence per field.`

const workflowInsightInstructions = `Write a concise markdown report of the whole
workflow: what was asked, what was done step by step, and what the final
artifacts show. Keep it under 300 words.`
