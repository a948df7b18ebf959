package policy

// BuiltinPolicies returns the policies shipped with the binary.
func BuiltinPolicies() []Policy {
	return []Policy{
		manifestMetadataPolicy(),
		recommendedLabelsPolicy(),
		containerPolicy(),
		selectorPolicy(),
		exposureQuestionsPolicy(),
	}
}

// manifestMetadataPolicy requires apiVersion, kind and a valid name.
func manifestMetadataPolicy() Policy {
	return Policy{
		Name:        "manifest-metadata",
		Description: "Every document needs apiVersion, kind and a DNS-compatible metadata.name",
		Severity:    SeverityError,
		Enabled:     true,
		Tags:        []string{"metadata", "naming"},
		Rego: `package deployconf.manifest.metadata

import rego.v1

deny contains msg if {
	not input.document.apiVersion
	msg := {"msg": "document has no apiVersion", "field": "apiVersion"}
}

deny contains msg if {
	not input.document.kind
	msg := {"msg": "document has no kind", "field": "kind"}
}

deny contains msg if {
	not input.document.metadata.name
	msg := {"msg": "metadata.name is required", "field": "metadata.name"}
}

deny contains msg if {
	name := input.document.metadata.name
	not regex.match("^[a-z0-9]([-a-z0-9.]*[a-z0-9])?$", name)
	msg := {"msg": sprintf("metadata.name %v must be a lowercase DNS subdomain", [name]), "field": "metadata.name"}
}

deny contains msg if {
	name := input.document.metadata.name
	count(name) > 253
	msg := {"msg": "metadata.name must not exceed 253 characters", "field": "metadata.name"}
}`,
	}
}

// recommendedLabelsPolicy warns about missing app.kubernetes.io labels.
func recommendedLabelsPolicy() Policy {
	return Policy{
		Name:        "recommended-labels",
		Description: "Warns when documents lack the app.kubernetes.io/name label",
		Severity:    SeverityWarning,
		Enabled:     true,
		Tags:        []string{"labels", "metadata"},
		Rego: `package deployconf.manifest.labels

import rego.v1

warn contains msg if {
	input.document.metadata
	not input.document.metadata.labels["app.kubernetes.io/name"]
	msg := {"msg": "missing recommended label app.kubernetes.io/name", "field": "metadata.labels"}
}`,
	}
}

// containerPolicy checks container images, limits and privileges.
func containerPolicy() Policy {
	return Policy{
		Name:        "container-hygiene",
		Description: "Containers must pin an image tag and must not run privileged",
		Severity:    SeverityError,
		Enabled:     true,
		Tags:        []string{"containers", "security"},
		Rego: `package deployconf.manifest.containers

import rego.v1

workload_kinds := {"Deployment", "StatefulSet", "DaemonSet", "ReplicaSet", "Job"}

pod_spec := input.document.spec if input.document.kind == "Pod"

pod_spec := input.document.spec.template.spec if input.document.kind in workload_kinds

pod_spec := input.document.spec.jobTemplate.spec.template.spec if input.document.kind == "CronJob"

containers contains c if {
	some c in pod_spec.containers
}

containers contains c if {
	some c in pod_spec.initContainers
}

container_name(c) := object.get(c, "name", "<unnamed>")

deny contains msg if {
	input.document.kind in workload_kinds
	count(object.get(pod_spec, "containers", [])) == 0
	msg := {"msg": "pod template defines no containers", "field": "spec.template.spec.containers"}
}

deny contains msg if {
	some c in containers
	not c.image
	msg := {"msg": sprintf("container %v has no image", [container_name(c)]), "field": "image"}
}

deny contains msg if {
	some c in containers
	endswith(c.image, ":latest")
	msg := {"msg": sprintf("container %v uses the mutable latest tag", [container_name(c)]), "field": "image"}
}

deny contains msg if {
	some c in containers
	c.securityContext.privileged == true
	msg := {
		"msg": sprintf("container %v must not run privileged", [container_name(c)]),
		"severity": "critical",
		"field": "securityContext.privileged",
	}
}

warn contains msg if {
	some c in containers
	c.image
	indexof(c.image, ":") == -1
	indexof(c.image, "@") == -1
	msg := {"msg": sprintf("container %v image has no tag", [container_name(c)]), "field": "image"}
}

warn contains msg if {
	some c in containers
	not c.resources.limits
	msg := {"msg": sprintf("container %v sets no resource limits", [container_name(c)]), "field": "resources.limits"}
}`,
	}
}

// selectorPolicy checks that selectors exist and match their templates.
func selectorPolicy() Policy {
	return Policy{
		Name:        "selectors",
		Description: "Services and workloads must select the pods they manage",
		Severity:    SeverityError,
		Enabled:     true,
		Tags:        []string{"selectors"},
		Rego: `package deployconf.manifest.selectors

import rego.v1

selector_kinds := {"Deployment", "StatefulSet", "DaemonSet", "ReplicaSet"}

deny contains msg if {
	input.document.kind == "Service"
	object.get(input.document, ["spec", "type"], "ClusterIP") != "ExternalName"
	not input.document.spec.selector
	msg := {"msg": "Service has no spec.selector", "field": "spec.selector"}
}

deny contains msg if {
	input.document.kind in selector_kinds
	not input.document.spec.selector
	msg := {"msg": "spec.selector is required", "field": "spec.selector"}
}

deny contains msg if {
	input.document.kind in selector_kinds
	labels := object.get(input.document, ["spec", "template", "metadata", "labels"], {})
	some key, value in input.document.spec.selector.matchLabels
	object.get(labels, key, null) != value
	msg := {
		"msg": sprintf("selector %v=%v does not match the pod template labels", [key, value]),
		"field": "spec.selector.matchLabels",
	}
}`,
	}
}

// exposureQuestionsPolicy asks for values that have no safe default when
// a solution exposes traffic or claims storage.
func exposureQuestionsPolicy() Policy {
	return Policy{
		Name:        "exposure-questions",
		Description: "Adds required questions for Ingress hosts and volume claim sizes",
		Severity:    SeverityInfo,
		Enabled:     true,
		Tags:        []string{"questions"},
		Rego: `package deployconf.questions.exposure

import rego.v1

kinds := {r.kind | some r in input.resources}

questions contains q if {
	input.stage == "required"
	"Ingress" in kinds
	q := {
		"id": "ingress_host",
		"prompt": "Which host name should the Ingress serve?",
		"type": "text",
		"required": true,
		"resource_mapping": {"resource_kind": "Ingress", "field_path": "spec.rules.0.host"},
	}
}

questions contains q if {
	input.stage == "required"
	"PersistentVolumeClaim" in kinds
	q := {
		"id": "storage_size",
		"prompt": "How much storage should the volume claim request (for example 10Gi)?",
		"type": "text",
		"required": true,
		"resource_mapping": {"resource_kind": "PersistentVolumeClaim", "field_path": "spec.resources.requests.storage"},
	}
}`,
	}
}
