package deviceupdater

// States. Per-component progress (which applicable-component index is
// currently being passed, updated, transferred, verified, or applied) is
// tracked by the updater's own cursor fields rather than by expanding the
// state space per component.
const (
	StateIdle                   = "idle"
	StateAwaitingRequestUpdate  = "awaiting_request_update"
	StateAwaitingPassCompTable  = "awaiting_pass_comp_table"
	StateAwaitingUpdateComponent = "awaiting_update_component"
	StateTransferring            = "transferring"
	StateVerifying               = "verifying"
	StateApplying                = "applying"
	StateAwaitingActivate        = "awaiting_activate"
	StateDoneSuccess             = "done_success"
	StateDoneFailure             = "done_failure"
)

const (
	evStart = "start"

	evRequestUpdateSucceeded = "request_update_succeeded"
	evRequestUpdateFailed    = "request_update_failed"

	evPassCompTableContinue = "pass_comp_table_continue"
	evPassCompTableAllDone  = "pass_comp_table_all_done"
	evPassCompTableFailed   = "pass_comp_table_failed"

	evUpdateComponentSucceeded = "update_component_succeeded"
	evUpdateComponentFailed    = "update_component_failed"

	evTransferComplete = "transfer_complete"
	evTransferFailed   = "transfer_failed"

	evVerifyComplete = "verify_complete"
	evVerifyFailed   = "verify_failed"

	evApplyCompleteMore = "apply_complete_more"
	evApplyCompleteLast = "apply_complete_last"
	evApplyFailed       = "apply_failed"

	evActivateSucceeded = "activate_succeeded"
	evActivateFailed    = "activate_failed"
)
