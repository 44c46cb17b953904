/*
Package yolopv2 provides post processing for the YOLOPv2 panoptic driving
perception model.  It converts the raw detection and segmentation tensors
produced by model inference into usable geometric artifacts: filtered object
bounding boxes in original image coordinates, and a fixed length 1D boundary
profile of the drivable area derived from the segmentation mask.

Model loading and inference itself is out of scope, any runtime that can
produce the raw output tensors (ONNX, TensorRT, RKNN etc) can feed this
package.  The root package holds the tensor container used to pass those
raw outputs around, the preprocess and postprocess subpackages hold the
letterbox transform and the detection/segmentation pipelines, and the render
subpackage draws results onto frames for display.
*/
package yolopv2
