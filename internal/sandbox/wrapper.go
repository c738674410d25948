package sandbox

import (
	"encoding/json"
	"fmt"
)

// moduleGlobal is the well-known guest global holding the loaded module's
// exports. The wrapper assigns it; list and call expressions read it.
const moduleGlobal = "__werkzeug_module"

// Host function names installed into the guest global scope. The wrapper
// rebinds them to ergonomic names on the bridge object.
const (
	hostFnLog      = "__host_log"
	hostFnFetch    = "__host_fetch"
	hostFnGetSkill = "__host_get_skill"
)

// wrapModuleSource wraps guest source with a fixed prologue/epilogue: a
// CommonJS-like module/exports binding, the bridge object, and assignment of
// module.exports to the module global so it is retrievable after execution.
//
// bridge.fetch and bridge.getSkill are async from the guest's point of view;
// the underlying host functions block while the host performs the I/O, so
// awaiting them resolves as soon as the call returns.
func wrapModuleSource(source string) string {
	return fmt.Sprintf(`(function() {
"use strict";
var module = { exports: {} };
var exports = module.exports;
var bridge = {
	log: function() {
		var parts = [];
		for (var i = 0; i < arguments.length; i++) {
			var a = arguments[i];
			parts.push(typeof a === "string" ? a : JSON.stringify(a));
		}
		%s(parts.join(" "));
	},
	fetch: async function(url, options) {
		return JSON.parse(%s(String(url), JSON.stringify(options || {})));
	},
	getSkill: async function(name) {
		var raw = %s(String(name));
		if (raw === "") { return null; }
		return JSON.parse(raw);
	}
};
%s
globalThis.%s = module.exports;
})();`, hostFnLog, hostFnFetch, hostFnGetSkill, source, moduleGlobal)
}

// validateExportsExpr checks the guest's exports immediately after load.
// It evaluates to "" when the module shape is acceptable, otherwise to a
// human-readable description of what is wrong. Malformed exports are a load
// failure; shape problems must never surface later at call time.
const validateExportsExpr = `(function() {
var m = globalThis.` + moduleGlobal + `;
if (m === undefined || m === null || typeof m !== "object") {
	return "module.exports is not an object";
}
if (!Array.isArray(m.tools)) {
	return "module.exports.tools is not an array";
}
for (var i = 0; i < m.tools.length; i++) {
	var t = m.tools[i];
	if (!t || typeof t.name !== "string" || t.name === "") {
		return "tools[" + i + "] is missing a name";
	}
	if (typeof t.description !== "string") {
		return "tools[" + i + "] (" + t.name + ") is missing a description";
	}
}
if (typeof m.callTool !== "function") {
	return "module.exports.callTool is not a function";
}
return "";
})()`

// listToolsExpr reads the guest's exported tool descriptors as JSON.
const listToolsExpr = `JSON.stringify(globalThis.` + moduleGlobal + `.tools)`

// callExpression builds the guest expression for a single tool call.
// Promise.resolve normalizes plain-value and promise-returning callTool
// implementations; the backend settles the resulting promise, so a guest
// rejection or throw surfaces as a guest error rather than a decode failure.
func callExpression(toolName string, argsJSON string) string {
	nameLit, _ := json.Marshal(toolName)
	argsLit, _ := json.Marshal(argsJSON)
	return fmt.Sprintf(`(function() {
var m = globalThis.%s;
var args = JSON.parse(%s);
return Promise.resolve(m.callTool(%s, args)).then(function(v) {
	return JSON.stringify(v === undefined ? null : v);
});
})();`, moduleGlobal, argsLit, nameLit)
}
