// Package ai runs structured model calls behind a single executor.
//
// Every call goes through [Execute], which checks that AI is enabled,
// picks the text or vision model, derives a JSON Schema from the result
// type, and decodes and validates the output. Failures never escape as
// panics or bare errors: they come back as a [Result] carrying an
// [ErrorCode], and [JobError] maps that code onto the queue's retry rules.
//
//	res := ai.Execute[recipe.Draft](ctx, exec, prompt, system, ai.WithVision())
//	if !res.Success {
//		return ai.JobError(res.Err())
//	}
package ai
